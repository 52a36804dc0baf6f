package geometry

// Transform 世界坐标（米）与平面图归一化坐标之间的标定变换
//
// 单应矩阵在构造时由参照点计算一次，之后只读，可并发使用。
// 无法求解时所有映射走仿射降级路径。
type Transform struct {
	worldToNorm *Homography
	widthM      float64
	depthM      float64
}

// NewTransform 从参照点构造变换
//
// 优先选择四个锚点参照（TrackID 2/6/5/1），不足四个时退回按序取前四个。
func NewTransform(points []ReferencePoint) *Transform {
	t := &Transform{
		widthM: ModelRefWidthM,
		depthM: ModelRefDepthM,
	}
	if len(points) < 4 {
		return t
	}

	byTrackID := make(map[int]ReferencePoint, len(points))
	for _, p := range points {
		byTrackID[p.TrackID] = p
	}
	anchors := make([]ReferencePoint, 0, 4)
	for _, trackID := range preferredAnchorTrackIDs {
		if p, ok := byTrackID[trackID]; ok {
			anchors = append(anchors, p)
		}
	}
	if len(anchors) < 4 {
		anchors = points
	}

	src := make([]Point, 0, len(anchors))
	dst := make([]Point, 0, len(anchors))
	for _, p := range anchors {
		// 标定数据是在 Z 取反的约定下拟合的，这里必须保持一致。
		src = append(src, Point{X: p.WorldX, Y: -p.WorldZ})
		dst = append(dst, Point{
			X: Clamp01(p.PredX / CameraFrameWidthPx),
			Y: Clamp01(p.PredY / CameraFrameHeightPx),
		})
	}
	if len(src) < 4 || len(dst) < 4 {
		return t
	}

	t.worldToNorm = ComputeHomography(src[:4], dst[:4])
	return t
}

// WorldToMapNorm 世界坐标（米）→ 平面图归一化坐标（钳制到 [0,1]）
//
// 单应可用时走射影变换，否则用仿射近似 x/width+0.5、z/depth+0.5。
func (t *Transform) WorldToMapNorm(worldX, worldZ float64) Point {
	sourceX := worldX
	sourceZ := -worldZ

	if t.worldToNorm != nil {
		if mapped := ApplyHomography(t.worldToNorm, sourceX, sourceZ); mapped != nil {
			return Point{X: Clamp01(mapped.X), Y: Clamp01(mapped.Y)}
		}
	}

	return Point{
		X: Clamp01(sourceX/t.widthM + 0.5),
		Y: Clamp01(sourceZ/t.depthM + 0.5),
	}
}

// MapNormToScene 平面图归一化坐标 → 任意物理尺度下的场景坐标
// （3D 渲染方向使用的纯仿射逆映射）
func (t *Transform) MapNormToScene(normX, normY, widthM, depthM float64) (x, z float64) {
	width := widthM
	if !(width > 0) {
		width = t.widthM
	}
	depth := depthM
	if !(depth > 0) {
		depth = t.depthM
	}
	return (Clamp01(normX) - 0.5) * width, (Clamp01(normY) - 0.5) * depth
}

// NormToWorld 平面图归一化坐标 → 世界坐标（米）
//
// offsetX/offsetZ 来自区域地图的 world 配置；Y 轴方向与 Z 轴相反。
func (t *Transform) NormToWorld(normX, normY, offsetX, offsetZ float64) (worldX, worldZ float64) {
	nx := Clamp01(normX)
	ny := Clamp01(normY)
	return offsetX + (nx-0.5)*t.widthM, offsetZ - (ny-0.5)*t.depthM
}
