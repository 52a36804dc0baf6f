package models

// SignalTone 信号面板的粗粒度状态分级
type SignalTone string

const (
	ToneIdle     SignalTone = "idle"
	ToneOK       SignalTone = "ok"
	ToneWatch    SignalTone = "watch"
	ToneCritical SignalTone = "critical"
)

// CrowdSignal 拥挤度信号摘要
//
// UpdatedAt 为 0 表示该槽位从未被更新过（有效时间戳均 ≥ 2000-01-01）。
type CrowdSignal struct {
	UpdatedAt       int64      `json:"updated_at"`
	DeviceID        string     `json:"device_id"`
	ZoneID          string     `json:"zone_id"`
	Count           int        `json:"count"`
	Tone            SignalTone `json:"tone"`
	CongestionLevel string     `json:"congestion_level"`
}

// SafetySignal 安全信号摘要（跌倒等）
type SafetySignal struct {
	UpdatedAt int64      `json:"updated_at"`
	DeviceID  string     `json:"device_id"`
	ZoneID    string     `json:"zone_id"`
	Count     int        `json:"count"`
	Tone      SignalTone `json:"tone"`
	Severity  string     `json:"severity"`
	FallCount int        `json:"fall_count"`
	Summary   string     `json:"summary"`
	Action    string     `json:"action"`
}

// TrashSignal 清扫信号摘要
type TrashSignal struct {
	UpdatedAt  int64      `json:"updated_at"`
	DeviceID   string     `json:"device_id"`
	ZoneID     string     `json:"zone_id"`
	Count      int        `json:"count"`
	Tone       SignalTone `json:"tone"`
	Severity   string     `json:"severity"`
	TrashCount int        `json:"trash_count"`
}

// SignalChecksState 三路独立的实时状态摘要
type SignalChecksState struct {
	Crowd  CrowdSignal  `json:"crowd"`
	Safety SafetySignal `json:"safety"`
	Trash  TrashSignal  `json:"trash"`
}

// SignalPatch 信号状态补丁（nil 槽位表示不变更）
type SignalPatch struct {
	Crowd  *CrowdSignal  `json:"crowd,omitempty"`
	Safety *SafetySignal `json:"safety,omitempty"`
	Trash  *TrashSignal  `json:"trash,omitempty"`
}

// InitialSignalChecks 进程启动时的初始信号状态
func InitialSignalChecks() SignalChecksState {
	return SignalChecksState{
		Crowd: CrowdSignal{
			DeviceID:        "-",
			ZoneID:          "-",
			Tone:            ToneIdle,
			CongestionLevel: "-",
		},
		Safety: SafetySignal{
			DeviceID: "-",
			ZoneID:   "-",
			Tone:     ToneIdle,
			Severity: "-",
			Summary:  "-",
			Action:   "-",
		},
		Trash: TrashSignal{
			DeviceID: "-",
			ZoneID:   "-",
			Tone:     ToneIdle,
			Severity: "-",
		},
	}
}
