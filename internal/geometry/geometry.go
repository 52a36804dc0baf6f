// Package geometry 提供规范化管线的几何内核：
// 射线法多边形包含测试、四点对应的单应矩阵求解/应用、坐标钳制。
package geometry

import "math"

// epsilon 机器精度（与退化判定共用）
const epsilon = 2.220446049250313e-16

// Point 平面点
type Point struct {
	X float64
	Y float64
}

// Homography 3×3 射影变换矩阵（行优先，右下角固定为 1）
type Homography [9]float64

// Clamp01 钳制到 [0,1]
func Clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// ClampRange 钳制到 [min,max]
func ClampRange(v, min, max float64) float64 {
	return math.Max(min, math.Min(max, v))
}

// PointInPolygon 射线法奇偶测试
//
// 水平边通过给斜率分母加 epsilon 规避除零，无副作用。
func PointInPolygon(x, y float64, polygon []Point) bool {
	inside := false
	for i, j := 0, len(polygon)-1; i < len(polygon); j, i = i, i+1 {
		xi, yi := polygon[i].X, polygon[i].Y
		xj, yj := polygon[j].X, polygon[j].Y

		denom := yj - yi
		if denom == 0 {
			denom = epsilon
		}
		intersects := (yi > y) != (yj > y) &&
			x < (xj-xi)*(y-yi)/denom+xi
		if intersects {
			inside = !inside
		}
	}
	return inside
}

func isFinitePoint(p Point) bool {
	return !math.IsInf(p.X, 0) && !math.IsNaN(p.X) &&
		!math.IsInf(p.Y, 0) && !math.IsNaN(p.Y)
}

// solveLinearSystem 高斯消元（列主元）
//
// 主元小于机器精度时视为奇异，返回 nil。
func solveLinearSystem(a [][]float64, b []float64) []float64 {
	n := len(a)
	if n == 0 || len(b) != n {
		return nil
	}
	for _, row := range a {
		if len(row) != n {
			return nil
		}
	}

	aug := make([][]float64, n)
	for i := range a {
		aug[i] = make([]float64, n+1)
		copy(aug[i], a[i])
		aug[i][n] = b[i]
	}

	for col := 0; col < n; col++ {
		pivotRow := col
		pivotValue := math.Abs(aug[col][col])
		for row := col + 1; row < n; row++ {
			if candidate := math.Abs(aug[row][col]); candidate > pivotValue {
				pivotValue = candidate
				pivotRow = row
			}
		}

		if pivotValue < epsilon {
			return nil
		}

		if pivotRow != col {
			aug[col], aug[pivotRow] = aug[pivotRow], aug[col]
		}

		pivot := aug[col][col]
		for k := col; k <= n; k++ {
			aug[col][k] /= pivot
		}

		for row := 0; row < n; row++ {
			if row == col {
				continue
			}
			factor := aug[row][col]
			if math.Abs(factor) < epsilon {
				continue
			}
			for k := col; k <= n; k++ {
				aug[row][k] -= factor * aug[col][k]
			}
		}
	}

	result := make([]float64, n)
	for i := range aug {
		result[i] = aug[i][n]
	}
	return result
}

// ComputeHomography 由四组对应点求解单应矩阵
//
// 多于四组时只取前四组。任一点非有限或线性系统奇异时返回 nil
// 而不是报错，调用方必须准备仿射降级方案。
func ComputeHomography(src, dst []Point) *Homography {
	if len(src) < 4 || len(dst) < 4 {
		return nil
	}

	src4 := src[:4]
	dst4 := dst[:4]
	for i := 0; i < 4; i++ {
		if !isFinitePoint(src4[i]) || !isFinitePoint(dst4[i]) {
			return nil
		}
	}

	a := make([][]float64, 0, 8)
	b := make([]float64, 0, 8)
	for i := 0; i < 4; i++ {
		x, y := src4[i].X, src4[i].Y
		u, v := dst4[i].X, dst4[i].Y

		a = append(a, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y})
		b = append(b, u)

		a = append(a, []float64{0, 0, 0, x, y, 1, -v * x, -v * y})
		b = append(b, v)
	}

	h := solveLinearSystem(a, b)
	if h == nil || len(h) != 8 {
		return nil
	}

	return &Homography{h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7], 1}
}

// ApplyHomography 将点通过单应矩阵投影
//
// 齐次分母接近零或结果非有限时返回 nil。
func ApplyHomography(m *Homography, x, y float64) *Point {
	if m == nil {
		return nil
	}

	w := m[6]*x + m[7]*y + m[8]
	if math.IsInf(w, 0) || math.IsNaN(w) || math.Abs(w) < epsilon {
		return nil
	}

	mx := (m[0]*x + m[1]*y + m[2]) / w
	my := (m[3]*x + m[4]*y + m[5]) / w
	if math.IsInf(mx, 0) || math.IsNaN(mx) || math.IsInf(my, 0) || math.IsNaN(my) {
		return nil
	}

	return &Point{X: mx, Y: my}
}
