package geometry

// ReferencePoint 相机画面上人工标定的参照点
// （像素预测位置 → 实测世界坐标，单位米）
type ReferencePoint struct {
	TrackID int
	PredX   float64
	PredY   float64
	WorldX  float64
	WorldZ  float64
	Status  string
	Note    string
}

// 标定用相机画幅尺寸
const (
	CameraFrameWidthPx  = 1280.0
	CameraFrameHeightPx = 720.0
)

// 平面图对应的参考物理尺度（米）
const (
	ModelRefWidthM = 13.0
	ModelRefDepthM = 15.12058
)

// preferredAnchorTrackIDs 优先用于标定的四个锚点
// （画面四角附近的点，可用时优先于其余参照点）
var preferredAnchorTrackIDs = []int{2, 6, 5, 1}

// DefaultReferencePoints 现场照片标定数据（一次性实测值，勿改）
var DefaultReferencePoints = []ReferencePoint{
	{TrackID: 0, PredX: 854, PredY: 583, WorldX: -0.09, WorldZ: -0.69, Status: "walking", Note: "photo mapped seed 0"},
	{TrackID: 1, PredX: 648, PredY: 716, WorldX: -0.06, WorldZ: -2.26, Status: "walking", Note: "photo mapped seed 1"},
	{TrackID: 2, PredX: 5, PredY: 584, WorldX: -8.24, WorldZ: -0.94, Status: "walking", Note: "photo mapped seed 2"},
	{TrackID: 3, PredX: 742, PredY: 236, WorldX: 1.84, WorldZ: 5.34, Status: "walking", Note: "photo mapped seed 3"},
	{TrackID: 5, PredX: 1042, PredY: 101, WorldX: 6.8, WorldZ: 10.1, Status: "walking", Note: "photo mapped seed 5"},
	{TrackID: 6, PredX: 355, PredY: 82, WorldX: -6.37, WorldZ: 10.39, Status: "walking", Note: "photo mapped seed 6"},
}
