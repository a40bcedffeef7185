package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Sarang2401/Precursor-Main/internal/common/config"
)

// Config 异常检测服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	HTTP struct {
		Addr string // 监听地址，默认 ":5000"
	}

	// 检测参数（全部可通过环境变量调整，无需改代码）
	Detection struct {
		SeqLen   int // 序列重构模型窗口长度，必须与训练时一致，默认 30
		IFWindow int // 离群模型统计窗口长度，默认 10

		RouteToleranceM float64 // 偏离路线容差（米），默认 30
		TempMin         float64 // 温度合法范围下限（°C），默认 18
		TempMax         float64 // 温度合法范围上限（°C），默认 30
		HumMin          float64 // 湿度合法范围下限（%），默认 10
		HumMax          float64 // 湿度合法范围上限（%），默认 90

		WeightReconstruction float64 // 重构误差权重，默认 0.7
		WeightOutlier        float64 // 离群标签权重，默认 0.3
		RiskHigh             float64 // HIGH 阈值，默认 0.8
		RiskMedium           float64 // MEDIUM 阈值，默认 0.5

		// ReconstructionAlpha 重构误差归一化常数 α（norm = 1 - exp(-err/α)）
		// 与训练集误差分布绑定；取值不当会静默地整体抬高或压低风险等级，不会报错
		ReconstructionAlpha float64
		// EnvironmentNormThreshold 重构归一化值超过该值时归为 environment_anomaly，默认 0.6
		EnvironmentNormThreshold float64
		// ReconstructionErrorThreshold 可选的全局重构误差阈值，仅用于 reconstruction_flag
		ReconstructionErrorThreshold *float64

		MaxAlerts int // 报警日志容量，默认 200
	}

	// 模型服务配置（TF-Serving 风格 REST 接口）
	Models struct {
		ScalerPath string // 训练时导出的 MinMaxScaler 参数（JSON）

		OutlierURL         string
		OutlierName        string
		ReconstructionURL  string
		ReconstructionName string

		Timeout            time.Duration // 单次模型调用超时
		BreakerFailures    uint32        // 连续失败多少次后熔断
		BreakerOpenTimeout time.Duration // 熔断后多久进入半开
	}

	// 路线参考配置
	Route struct {
		Source  string // "csv" / "postgres" / "none"
		CSVPath string
		Table   string
	}

	// 接入配置
	Ingest struct {
		MQTTEnabled bool
		MQTTTopic   string // 如 "precursor/+/report"

		StreamEnabled  bool
		ReadingsStream string
		ConsumerGroup  string
		ConsumerName   string
		BatchSize      int64
	}

	// 报警下游推送（Redis Streams，仅通知，不作为存储）
	Alerts struct {
		PublishEnabled bool
		Stream         string
		StreamMaxLen   int64
	}

	ThingSpeak struct {
		BaseURL      string
		ChannelID    string
		ReadKey      string
		PollInterval time.Duration
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 基础设施（默认值 + 环境变量覆盖）
	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "precursor",
		SSLMode:  "disable",
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "precursor-anomaly"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":5000")

	// 检测参数
	cfg.Detection.SeqLen = getEnvInt("SEQ_LEN", 30)
	cfg.Detection.IFWindow = getEnvInt("IF_WINDOW", 10)
	cfg.Detection.RouteToleranceM = getEnvFloat("DIST_TOL_M", 30.0)
	cfg.Detection.TempMin = getEnvFloat("TEMP_MIN", 18.0)
	cfg.Detection.TempMax = getEnvFloat("TEMP_MAX", 30.0)
	cfg.Detection.HumMin = getEnvFloat("HUM_MIN", 10.0)
	cfg.Detection.HumMax = getEnvFloat("HUM_MAX", 90.0)
	cfg.Detection.WeightReconstruction = getEnvFloat("W_LSTM", 0.7)
	cfg.Detection.WeightOutlier = getEnvFloat("W_IF", 0.3)
	cfg.Detection.RiskHigh = getEnvFloat("ENSEMBLE_HIGH", 0.8)
	cfg.Detection.RiskMedium = getEnvFloat("ENSEMBLE_MED", 0.5)
	cfg.Detection.ReconstructionAlpha = getEnvFloat("RECON_ALPHA", 100.0)
	cfg.Detection.EnvironmentNormThreshold = getEnvFloat("RECON_ENV_NORM", 0.6)
	if v := os.Getenv("LSTM_ERROR_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detection.ReconstructionErrorThreshold = &f
		}
	}
	cfg.Detection.MaxAlerts = getEnvInt("MAX_ALERTS", 200)

	// 模型服务
	cfg.Models.ScalerPath = getEnv("LSTM_SCALER_PATH", "ml/lstm_scaler.json")
	cfg.Models.OutlierURL = getEnv("IF_MODEL_URL", "http://localhost:8501")
	cfg.Models.OutlierName = getEnv("IF_MODEL_NAME", "isolation_forest")
	cfg.Models.ReconstructionURL = getEnv("LSTM_MODEL_URL", "http://localhost:8501")
	cfg.Models.ReconstructionName = getEnv("LSTM_MODEL_NAME", "lstm_autoencoder")
	cfg.Models.Timeout = getEnvDuration("MODEL_TIMEOUT", 2*time.Second)
	cfg.Models.BreakerFailures = uint32(getEnvInt("MODEL_BREAKER_FAILURES", 5))
	cfg.Models.BreakerOpenTimeout = getEnvDuration("MODEL_BREAKER_OPEN_TIMEOUT", 30*time.Second)

	// 路线参考
	cfg.Route.Source = getEnv("ROUTE_SOURCE", "csv")
	cfg.Route.CSVPath = getEnv("EXPECTED_ROUTE_CSV", "data/expected_route.csv")
	cfg.Route.Table = getEnv("ROUTE_TABLE", "expected_route")

	// 接入
	cfg.Ingest.MQTTEnabled = getEnvBool("MQTT_ENABLED", false)
	cfg.Ingest.MQTTTopic = getEnv("MQTT_TOPIC", "precursor/+/report")
	cfg.Ingest.StreamEnabled = getEnvBool("STREAM_ENABLED", false)
	cfg.Ingest.ReadingsStream = getEnv("STREAM_INPUT", "precursor:readings:stream")
	cfg.Ingest.ConsumerGroup = getEnv("CONSUMER_GROUP", "precursor-anomaly-group")
	cfg.Ingest.ConsumerName = getEnv("CONSUMER_NAME", "precursor-anomaly-1")
	cfg.Ingest.BatchSize = int64(getEnvInt("STREAM_BATCH_SIZE", 10))

	cfg.Alerts.PublishEnabled = getEnvBool("ALERT_PUBLISH_ENABLED", false)
	cfg.Alerts.Stream = getEnv("ALERT_STREAM", "precursor:alerts:stream")
	cfg.Alerts.StreamMaxLen = int64(getEnvInt("ALERT_STREAM_MAXLEN", 1000))

	cfg.ThingSpeak.BaseURL = getEnv("THINGSPEAK_BASE_URL", "https://api.thingspeak.com")
	cfg.ThingSpeak.ChannelID = getEnv("THINGSPEAK_CHANNEL_ID", "")
	cfg.ThingSpeak.ReadKey = getEnv("THINGSPEAK_READ_KEY", "")
	cfg.ThingSpeak.PollInterval = getEnvDuration("THINGSPEAK_POLL_INTERVAL", 30*time.Second)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 校验检测参数的一致性
func (c *Config) Validate() error {
	d := c.Detection
	var errs []error

	if d.SeqLen < 1 {
		errs = append(errs, fmt.Errorf("SEQ_LEN must be positive, got %d", d.SeqLen))
	}
	if d.IFWindow < 1 || d.IFWindow > d.SeqLen {
		errs = append(errs, fmt.Errorf("IF_WINDOW must be in [1, SEQ_LEN], got %d", d.IFWindow))
	}
	if d.TempMin > d.TempMax {
		errs = append(errs, fmt.Errorf("TEMP_MIN %.2f greater than TEMP_MAX %.2f", d.TempMin, d.TempMax))
	}
	if d.HumMin > d.HumMax {
		errs = append(errs, fmt.Errorf("HUM_MIN %.2f greater than HUM_MAX %.2f", d.HumMin, d.HumMax))
	}
	if d.WeightReconstruction < 0 || d.WeightOutlier < 0 || d.WeightReconstruction+d.WeightOutlier > 1.0+1e-9 {
		errs = append(errs, fmt.Errorf("ensemble weights must be non-negative and sum to at most 1, got %.2f + %.2f",
			d.WeightReconstruction, d.WeightOutlier))
	}
	if d.RiskMedium > d.RiskHigh {
		errs = append(errs, fmt.Errorf("ENSEMBLE_MED %.2f greater than ENSEMBLE_HIGH %.2f", d.RiskMedium, d.RiskHigh))
	}
	if d.ReconstructionAlpha <= 0 {
		errs = append(errs, fmt.Errorf("RECON_ALPHA must be positive, got %.2f", d.ReconstructionAlpha))
	}
	if d.MaxAlerts < 1 {
		errs = append(errs, fmt.Errorf("MAX_ALERTS must be positive, got %d", d.MaxAlerts))
	}
	switch c.Route.Source {
	case "csv", "postgres", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown ROUTE_SOURCE %q", c.Route.Source))
	}

	return errors.Join(errs...)
}

// ThingSpeakEnabled 是否配置了 ThingSpeak 轮询
func (c *Config) ThingSpeakEnabled() bool {
	return c.ThingSpeak.ChannelID != "" && c.ThingSpeak.ReadKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
