// Package zonemap 加载只读的区域地图文档并提供区域归属解析。
//
// 多边形/质心在加载时统一从像素坐标归一化到 0..1，之后只读，
// 可并发查询。
package zonemap

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strings"

	"storewatch-ingest/internal/geometry"
	"storewatch-ingest/internal/models"
)

// genericZoneIDs 占位性质的"区域"标识，不能当成真实区域
var genericZoneIDs = map[string]bool{
	"store":  true,
	"site":   true,
	"shop":   true,
	"global": true,
	"all":    true,
}

// normalizedZone 预归一化后的区域
type normalizedZone struct {
	zoneID   string
	polygon  []geometry.Point
	holes    [][]geometry.Point
	centroid geometry.Point
}

// Resolver 区域归属解析器
type Resolver struct {
	doc   *models.ZoneMap
	zones []normalizedZone
	ids   map[string]bool
}

// LoadFile 从 JSON 文件加载区域地图
func LoadFile(path string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zone map: %w", err)
	}
	return Load(data)
}

// Load 解析区域地图文档并构建解析器
//
// 区域列表为空属于启动期配置错误，直接报错（与单条脏数据不同，
// 这里没有可降级的余地）。
func Load(data []byte) (*Resolver, error) {
	var doc models.ZoneMap
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse zone map: %w", err)
	}
	return New(&doc)
}

// New 从已解码的文档构建解析器
func New(doc *models.ZoneMap) (*Resolver, error) {
	if doc == nil || len(doc.Zones) == 0 {
		return nil, fmt.Errorf("zone map has no zones")
	}

	width := math.Max(1, doc.Map.Width)
	height := math.Max(1, doc.Map.Height)

	r := &Resolver{
		doc: doc,
		ids: make(map[string]bool, len(doc.Zones)),
	}

	for _, zone := range doc.Zones {
		nz := normalizedZone{zoneID: zone.ZoneID}

		for _, pair := range zone.Polygon {
			if len(pair) < 2 {
				continue
			}
			nz.polygon = append(nz.polygon, geometry.Point{
				X: geometry.Clamp01(pair[0] / width),
				Y: geometry.Clamp01(pair[1] / height),
			})
		}

		for _, hole := range zone.Holes {
			points := make([]geometry.Point, 0, len(hole))
			for _, pair := range hole {
				if len(pair) < 2 {
					continue
				}
				points = append(points, geometry.Point{
					X: geometry.Clamp01(pair[0] / width),
					Y: geometry.Clamp01(pair[1] / height),
				})
			}
			if len(points) > 0 {
				nz.holes = append(nz.holes, points)
			}
		}

		nz.centroid = geometry.Point{X: 0.5, Y: 0.5}
		if len(zone.Centroid) >= 2 {
			nz.centroid = geometry.Point{
				X: geometry.Clamp01(zone.Centroid[0] / width),
				Y: geometry.Clamp01(zone.Centroid[1] / height),
			}
		}

		r.zones = append(r.zones, nz)
		r.ids[zone.ZoneID] = true
	}

	return r, nil
}

// Document 底层文档（只读）
func (r *Resolver) Document() *models.ZoneMap {
	return r.doc
}

// StoreID 地图归属的门店 ID
func (r *Resolver) StoreID() string {
	return r.doc.StoreID
}

// Contains 区域 ID 是否在地图中
func (r *Resolver) Contains(zoneID string) bool {
	return r.ids[zoneID]
}

// ZoneIDs 按文档顺序返回全部区域 ID
func (r *Resolver) ZoneIDs() []string {
	ids := make([]string, 0, len(r.zones))
	for _, z := range r.zones {
		ids = append(ids, z.zoneID)
	}
	return ids
}

// Centroid 区域质心（归一化坐标）；未知区域返回地图中心
func (r *Resolver) Centroid(zoneID string) geometry.Point {
	for _, z := range r.zones {
		if z.zoneID == zoneID {
			return z.centroid
		}
	}
	return geometry.Point{X: 0.5, Y: 0.5}
}

// SamplePoint 在区域内随机取一点（归一化坐标）
//
// 外接矩形内拒绝采样最多 36 次，全部落空时退回质心；
// 未知区域返回地图中心。
func (r *Resolver) SamplePoint(zoneID string, rng *rand.Rand) geometry.Point {
	for _, zone := range r.zones {
		if zone.zoneID != zoneID {
			continue
		}
		if len(zone.polygon) == 0 {
			return zone.centroid
		}

		minX, minY := math.Inf(1), math.Inf(1)
		maxX, maxY := math.Inf(-1), math.Inf(-1)
		for _, p := range zone.polygon {
			minX = math.Min(minX, p.X)
			maxX = math.Max(maxX, p.X)
			minY = math.Min(minY, p.Y)
			maxY = math.Max(maxY, p.Y)
		}

		for i := 0; i < 36; i++ {
			x := minX + rng.Float64()*(maxX-minX)
			y := minY + rng.Float64()*(maxY-minY)
			if !geometry.PointInPolygon(x, y, zone.polygon) {
				continue
			}
			inHole := false
			for _, hole := range zone.holes {
				if geometry.PointInPolygon(x, y, hole) {
					inHole = true
					break
				}
			}
			if !inHole {
				return geometry.Point{X: x, Y: y}
			}
		}
		return zone.centroid
	}
	return geometry.Point{X: 0.5, Y: 0.5}
}

// Resolve 解析归一化坐标归属的区域 ID
//
// 优先级：已知的显式区域 ID → 非占位的上游自定义 ID 原样信任 →
// 多边形包含（文档顺序首个命中，孔洞扣除）→ 最近质心。
// 只要地图里至少有一个区域，本函数不会返回空串。
func (r *Resolver) Resolve(x, y float64, explicitZoneID string) string {
	if explicitZoneID != "" {
		if r.ids[explicitZoneID] {
			return explicitZoneID
		}
		if !genericZoneIDs[strings.ToLower(explicitZoneID)] {
			// 上游自定义分区，原样保留
			return explicitZoneID
		}
	}

	for _, zone := range r.zones {
		if len(zone.polygon) == 0 {
			continue
		}
		if !geometry.PointInPolygon(x, y, zone.polygon) {
			continue
		}
		inHole := false
		for _, hole := range zone.holes {
			if geometry.PointInPolygon(x, y, hole) {
				inHole = true
				break
			}
		}
		if !inHole {
			return zone.zoneID
		}
	}

	nearestID := r.zones[0].zoneID
	nearestDist := math.Inf(1)
	for _, zone := range r.zones {
		dx := x - zone.centroid.X
		dy := y - zone.centroid.Y
		dist := dx*dx + dy*dy
		if dist < nearestDist {
			nearestDist = dist
			nearestID = zone.zoneID
		}
	}
	return nearestID
}
