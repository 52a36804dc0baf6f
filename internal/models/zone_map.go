package models

// Zone 楼层平面图上的一个多边形区域
//
// 多边形和质心均为源图像素坐标，加载时统一除以 map.width/height 归一化。
type Zone struct {
	ZoneID   string        `json:"zone_id"`
	ZoneKey  string        `json:"zone_key,omitempty"`
	Name     string        `json:"name"`
	Polygon  [][]float64   `json:"polygon"`
	Centroid []float64     `json:"centroid"`
	Holes    [][][]float64 `json:"holes,omitempty"`
}

// WorldExtent 平面图对应的物理尺度（米）
type WorldExtent struct {
	WidthM   float64 `json:"width_m"`
	DepthM   float64 `json:"depth_m"`
	OffsetXM float64 `json:"offset_x_m"`
	OffsetZM float64 `json:"offset_z_m"`
}

// MapMeta 平面图元信息
type MapMeta struct {
	ImageName string       `json:"image_name"`
	Width     float64      `json:"width"`
	Height    float64      `json:"height"`
	World     *WorldExtent `json:"world,omitempty"`
}

// ZoneMap 区域地图文档（只读，启动时加载一次）
type ZoneMap struct {
	StoreID string  `json:"store_id"`
	Map     MapMeta `json:"map"`
	Zones   []Zone  `json:"zones"`
}

// WorldOffsetX 世界坐标 X 轴偏移（未配置时为 0）
func (zm *ZoneMap) WorldOffsetX() float64 {
	if zm.Map.World == nil {
		return 0
	}
	return zm.Map.World.OffsetXM
}

// WorldOffsetZ 世界坐标 Z 轴偏移（未配置时为 0）
func (zm *ZoneMap) WorldOffsetZ() float64 {
	if zm.Map.World == nil {
		return 0
	}
	return zm.Map.World.OffsetZM
}
