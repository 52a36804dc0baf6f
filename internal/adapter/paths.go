package adapter

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// AsRecord 判断任意解码值是否为 JSON 对象
func AsRecord(value interface{}) (map[string]interface{}, bool) {
	m, ok := value.(map[string]interface{})
	return m, ok
}

// ReadPath 按点分路径读取嵌套字段，任一层缺失返回 nil
func ReadPath(record map[string]interface{}, path string) interface{} {
	chunks := strings.Split(path, ".")
	var cursor interface{} = record
	for _, chunk := range chunks {
		m, ok := cursor.(map[string]interface{})
		if !ok {
			return nil
		}
		cursor = m[chunk]
	}
	return cursor
}

// PickValue 按候选路径顺序取第一个非空值
//
// 上游各家字段命名不同，候选表的顺序即优先级。
func PickValue(record map[string]interface{}, paths []string) interface{} {
	for _, path := range paths {
		if value := ReadPath(record, path); value != nil {
			return value
		}
	}
	return nil
}

// parseID 宽松解析标识符：字符串去空白，数值取整转字符串
func parseID(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return strconv.FormatInt(int64(math.Round(v)), 10)
		}
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

// parseNumber 宽松解析数值，失败返回 (0, false)
func parseNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

// parseText 非空字符串去空白，其余类型视为缺失
func parseText(value interface{}) string {
	s, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// 时间戳有效区间：2000-01-01 之前视为脏数据，未来漂移容忍一年
const (
	minValidEpochMs  = int64(946684800000)
	maxFutureDriftMs = int64(1000 * 60 * 60 * 24 * 365)
)

var textTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseEpochMs 解析时间戳为 epoch 毫秒
//
// 数值按量级判定单位：>=1e12 视为毫秒，1e9..1e11 视为秒。
// 字符串先按数值解析，失败再按日期文本解析。
// 越过有效区间（早于 2000-01-01 或超前一年以上）返回 false。
func parseEpochMs(value interface{}) (int64, bool) {
	normalize := func(epochMs float64) (int64, bool) {
		if math.IsNaN(epochMs) || math.IsInf(epochMs, 0) {
			return 0, false
		}
		rounded := int64(math.Round(epochMs))
		now := time.Now().UnixMilli()
		if rounded < minValidEpochMs {
			return 0, false
		}
		if rounded > now+maxFutureDriftMs {
			return 0, false
		}
		return rounded, true
	}

	fromNumber := func(v float64) (int64, bool) {
		if v >= 1e12 {
			return normalize(v)
		}
		if v >= 1e9 && v <= 1e11 {
			return normalize(v * 1000)
		}
		return normalize(v)
	}

	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return fromNumber(v)
	case int:
		return fromNumber(float64(v))
	case int64:
		return fromNumber(float64(v))
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, false
		}
		if asNum, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return fromNumber(asNum)
		}
		for _, layout := range textTimeLayouts {
			if ts, err := time.Parse(layout, trimmed); err == nil {
				return normalize(float64(ts.UnixMilli()))
			}
		}
	}
	return 0, false
}
