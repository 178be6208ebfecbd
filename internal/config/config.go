package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// PostgresConfig selects the in-memory repositories when DSN is empty.
type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

type StorageConfig struct {
	Endpoint        string
	AccessKey       string
	SecretKey       string
	BucketSnapshots string
	UseSSL          bool
	Region          string
}

type SecurityConfig struct {
	JWTAccessSecret  string
	JWTRefreshSecret string
	JWTAccessTTL     time.Duration
	JWTRefreshTTL    time.Duration
	SignatureSecret  string
	SignatureMaxSkew time.Duration
	MaxSessions      int
	PruneSchedule    string
}

type ReportsConfig struct {
	ChangesChannel string
	TaskStream     string
	ExportSchedule string
	ResyncInterval time.Duration
}

type WorkerConfig struct {
	Group         string
	Consumer      string
	ClaimInterval time.Duration
	MaxDeliveries int64
	MetricsAddr   string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	TLS              TLSConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Security         SecurityConfig
	Reports          ReportsConfig
	Worker           WorkerConfig
	Kafka            KafkaConfig
	AllowCORSOrigins []string
}

// ClientConfig drives cmd/reporter.
type ClientConfig struct {
	BaseURL         string
	DeviceID        string
	DeviceName      string
	SignatureSecret string
	Redis           RedisConfig
	CacheEnabled    bool
}

func Load() (*AppConfig, error) {
	v := newViper("config", "FLOODBUDDY")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, decoderOptions); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Security.JWTAccessSecret == "" {
		return nil, fmt.Errorf("security.jwtaccesssecret is required")
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka.enabled is true but kafka.brokers is empty")
	}

	return &cfg, nil
}

func LoadClient() (*ClientConfig, error) {
	v := newViper("reporter", "FLOODBUDDY_CLIENT")

	v.SetDefault("baseurl", "http://127.0.0.1:8080")
	v.SetDefault("devicename", "reporter-cli")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cacheenabled", false)
	v.SetDefault("deviceid", "")
	v.SetDefault("signaturesecret", "")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg, decoderOptions); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func newViper(name, envPrefix string) *viper.Viper {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decoderOptions(dc *mapstructure.DecoderConfig) {
	dc.TagName = "mapstructure"
	dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	// zero keeps SSE streams open
	v.SetDefault("http.writetimeout", "0s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolsize", 20)
	v.SetDefault("redis.dialtimeout", "5s")

	v.SetDefault("storage.endpoint", "127.0.0.1:9000")
	v.SetDefault("storage.accesskey", "")
	v.SetDefault("storage.secretkey", "")
	v.SetDefault("storage.bucketsnapshots", "floodbuddy-snapshots")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("security.jwtaccesssecret", "")
	v.SetDefault("security.jwtrefreshsecret", "")
	v.SetDefault("security.jwtaccessttl", "15m")
	v.SetDefault("security.jwtrefreshttl", "720h") // 30 days
	v.SetDefault("security.signaturesecret", "")
	v.SetDefault("security.signaturemaxskew", "5m")
	v.SetDefault("security.maxsessions", 10)
	v.SetDefault("security.pruneschedule", "0 30 3 * * *")

	v.SetDefault("reports.changeschannel", "reports:changed")
	v.SetDefault("reports.taskstream", "reports:tasks")
	v.SetDefault("reports.exportschedule", "0 0 * * * *")
	v.SetDefault("reports.resyncinterval", "30s")

	v.SetDefault("worker.group", "report-workers")
	v.SetDefault("worker.consumer", "worker-1")
	v.SetDefault("worker.claiminterval", "30s")
	v.SetDefault("worker.maxdeliveries", 5)
	v.SetDefault("worker.metricsaddr", ":9102")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "flood-reports")

	v.SetDefault("allowcorsorigins", "")
}
