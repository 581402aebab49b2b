package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Token    TokenConfig    `mapstructure:"token"`
	Ark      ArkConfig      `mapstructure:"ark"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Mail     MailConfig     `mapstructure:"mail"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Mode     string `mapstructure:"mode"`
	AdminKey string `mapstructure:"admin_key"`
	WorkerID int64  `mapstructure:"worker_id"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig type 取值 mysql / postgres / sqlite
type DatabaseConfig struct {
	Type         string `mapstructure:"type"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	Path         string `mapstructure:"path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PaymentEvent string `mapstructure:"payment_event"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	Issuer      string `mapstructure:"issuer"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// PaymentConfig 易支付（ZPay）网关配置
type PaymentConfig struct {
	BaseURL    string          `mapstructure:"base_url"`
	PID        string          `mapstructure:"pid"`
	Key        string          `mapstructure:"key"`
	NotifyURL  string          `mapstructure:"notify_url"`
	ReturnURL  string          `mapstructure:"return_url"`
	SubmitPath string          `mapstructure:"submit_path"`
	APIPath    string          `mapstructure:"api_path"`
	QueryPath  string          `mapstructure:"query_path"`
	Timeout    time.Duration   `mapstructure:"timeout"`
	Packages   []PackageConfig `mapstructure:"packages"`
}

// PackageConfig Token 充值套餐
type PackageConfig struct {
	ID     string `mapstructure:"id"`
	Name   string `mapstructure:"name"`
	Tokens int64  `mapstructure:"tokens"`
	Price  string `mapstructure:"price"`
}

type TokenConfig struct {
	RegisterBonus int64            `mapstructure:"register_bonus"`
	Costs         map[string]int64 `mapstructure:"costs"`
}

// ArkConfig 火山方舟生成服务配置
type ArkConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	ImageModel   string        `mapstructure:"image_model"`
	VideoModel   string        `mapstructure:"video_model"`
	ImageSize    string        `mapstructure:"image_size"`
	Guidance     float64       `mapstructure:"guidance_scale"`
	Seed         int64         `mapstructure:"seed"`
	Watermark    bool          `mapstructure:"watermark"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
}

// StorageConfig 生成结果转存，type 取值 none / local / s3
type StorageConfig struct {
	Type          string `mapstructure:"type"`
	LocalDir      string `mapstructure:"local_dir"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	S3Endpoint    string `mapstructure:"s3_endpoint"`
	S3Region      string `mapstructure:"s3_region"`
	S3Bucket      string `mapstructure:"s3_bucket"`
	S3AccessKey   string `mapstructure:"s3_access_key"`
	S3SecretKey   string `mapstructure:"s3_secret_key"`
	S3PathStyle   bool   `mapstructure:"s3_path_style"`
}

type MailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type BusinessConfig struct {
	MaxRetryCount            int  `mapstructure:"max_retry_count"`
	PendingOrderCheckMinutes int  `mapstructure:"pending_order_check_minutes"`
	PendingOrderMaxAgeHours  int  `mapstructure:"pending_order_max_age_hours"`
	RequireEmailCode         bool `mapstructure:"require_email_code"`
	EmailCodeExpireMinutes   int  `mapstructure:"email_code_expire_minutes"`
}

// DefaultPackages 默认充值套餐
var DefaultPackages = []PackageConfig{
	{ID: "package_100", Name: "100 Tokens", Tokens: 100, Price: "2.00"},
	{ID: "package_500", Name: "500 Tokens", Tokens: 500, Price: "9.00"},
	{ID: "package_1000", Name: "1000 Tokens", Tokens: 1000, Price: "16.00"},
	{ID: "package_2000", Name: "2000 Tokens", Tokens: 2000, Price: "30.00"},
	{ID: "package_5000", Name: "5000 Tokens", Tokens: 5000, Price: "70.00"},
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("log.level", "info")

	v.SetDefault("database.type", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.name", "tokenpay")
	v.SetDefault("database.path", "data/tokenpay.db")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("kafka.topic.payment_event", "payment_event")

	v.SetDefault("jwt.issuer", "tokenpay")
	v.SetDefault("jwt.expire_hours", 24*7)

	v.SetDefault("payment.submit_path", "/submit.php")
	v.SetDefault("payment.api_path", "/mapi.php")
	v.SetDefault("payment.query_path", "/api.php")
	v.SetDefault("payment.timeout", 10*time.Second)

	v.SetDefault("token.register_bonus", 100)
	v.SetDefault("token.costs", map[string]int64{
		"IMAGE_GENERATION": 10,
		"VIDEO_GENERATION": 50,
	})

	v.SetDefault("ark.base_url", "https://ark.cn-beijing.volces.com/api/v3")
	v.SetDefault("ark.image_model", "doubao-seedream-3-0-t2i-250415")
	v.SetDefault("ark.video_model", "doubao-seedance-1-0-lite-i2v-250428")
	v.SetDefault("ark.image_size", "512x512")
	v.SetDefault("ark.guidance_scale", 2.5)
	v.SetDefault("ark.seed", 12345)
	v.SetDefault("ark.watermark", true)
	v.SetDefault("ark.poll_interval", 3*time.Second)
	v.SetDefault("ark.poll_timeout", 10*time.Minute)

	v.SetDefault("storage.type", "none")
	v.SetDefault("storage.local_dir", "data/files")

	v.SetDefault("mail.port", 465)

	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.pending_order_check_minutes", 2)
	v.SetDefault("business.pending_order_max_age_hours", 24)
	v.SetDefault("business.email_code_expire_minutes", 10)
}

// LoadConfig 加载配置文件，环境变量 TOKENPAY_XXX_YYY 覆盖 xxx.yyy
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TOKENPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if len(cfg.Payment.Packages) == 0 {
		cfg.Payment.Packages = DefaultPackages
	}
	// viper 会把 key 转为小写，这里恢复为交易类型的大写形式
	costs := make(map[string]int64, len(cfg.Token.Costs))
	for k, v := range cfg.Token.Costs {
		costs[strings.ToUpper(k)] = v
	}
	cfg.Token.Costs = costs

	GlobalConfig = cfg
	return cfg, nil
}
