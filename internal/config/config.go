package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig PostgreSQL 连接配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN 生成 lib/pq 连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config 事件接入服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig

	// MQTT 设备上行接入
	MQTT struct {
		Broker   string // 如 "tcp://localhost:1883"
		ClientID string
		Username string
		Password string
		// 设备事件主题，+ 占位设备 ID，如 "storewatch/+/events"
		EventTopic string
	}

	// 事件接入服务特定配置
	Ingest struct {
		// 缺省门店 ID（事件未携带 store 字段时使用）
		FallbackStoreID string

		// 区域地图文档路径
		ZoneMapPath string

		// 单次快照/查询保留的事件上限，限制在 1..1000
		MaxEvents int

		// 归一化后事件写入的 Redis Stream
		EventStream   string
		ConsumerGroup string
		ConsumerName  string
		BatchSize     int

		// HTTP 轮询上游（可选，为空则不启用）
		Poll struct {
			URL      string
			APIKey   string
			Interval int // 轮询间隔（秒）
		}

		// 启动时生成演示事件填充空状态
		DemoSeed bool
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "storewatch")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "storewatch-ingest")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.EventTopic = getEnv("MQTT_EVENT_TOPIC", "storewatch/+/events")

	// 事件接入配置
	cfg.Ingest.FallbackStoreID = getEnv("INGEST_STORE_ID", "s001")
	cfg.Ingest.ZoneMapPath = getEnv("ZONE_MAP_PATH", "configs/zone_map_s001.json")
	cfg.Ingest.MaxEvents = clampInt(getEnvInt("INGEST_MAX_EVENTS", 200), 1, 1000)
	cfg.Ingest.EventStream = getEnv("EVENT_STREAM", "event:normalized")
	cfg.Ingest.ConsumerGroup = getEnv("EVENT_CONSUMER_GROUP", "storewatch-ingest-group")
	cfg.Ingest.ConsumerName = getEnv("EVENT_CONSUMER_NAME", "storewatch-ingest-1")
	cfg.Ingest.BatchSize = getEnvInt("EVENT_BATCH_SIZE", 10)
	cfg.Ingest.Poll.URL = getEnv("POLL_URL", "")
	cfg.Ingest.Poll.APIKey = getEnv("POLL_API_KEY", "")
	cfg.Ingest.Poll.Interval = getEnvInt("POLL_INTERVAL", 30)
	cfg.Ingest.DemoSeed = getEnv("INGEST_DEMO_SEED", "false") == "true"

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
