package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBName         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		EnableMetrics  bool   `mapstructure:"ENABLE_METRICS"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	// Cron holds the shared secret that authorizes scheduled triggers
	// (GET /cron/daily-check, POST /batch/run).
	Cron struct {
		Secret string `mapstructure:"SECRET"`
	} `mapstructure:"CRON"`
	// Provider configures the outbound notification provider and the
	// shared secret its inbound webhooks are verified against.
	Provider struct {
		BaseURL       string        `mapstructure:"BASE_URL"`
		AccountID     string        `mapstructure:"ACCOUNT_ID"`
		AuthToken     string        `mapstructure:"AUTH_TOKEN"`
		SMSFrom       string        `mapstructure:"SMS_FROM"`
		WhatsAppFrom  string        `mapstructure:"WHATSAPP_FROM"`
		VoiceFrom     string        `mapstructure:"VOICE_FROM"`
		EmailFrom     string        `mapstructure:"EMAIL_FROM"`
		WebhookSecret string        `mapstructure:"WEBHOOK_SECRET"`
		Timeout       time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"PROVIDER"`
	// Scan bounds a single batch invocation.
	Scan struct {
		Budget       time.Duration `mapstructure:"BUDGET"`
		DailyRunHour int           `mapstructure:"DAILY_RUN_HOUR"`
	} `mapstructure:"SCAN"`
	// Alerting holds platform-wide fallbacks; per-organization rows in
	// alert_configurations override these.
	Alerting struct {
		UrgentThresholdDays  int `mapstructure:"URGENT_THRESHOLD_DAYS"`
		WarningThresholdDays int `mapstructure:"WARNING_THRESHOLD_DAYS"`
	} `mapstructure:"ALERTING"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() (*Config, error) {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	setDefaults(config)

	if err := config.ReadInConfig(); err != nil {
		// config file is optional, env vars are enough
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		zap.L().Info("no config file found, using environment only")
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "compliance-controlplane")
	v.SetDefault("HTTP_SERVER.ADDR", ":8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("PROVIDER.TIMEOUT", 10*time.Second)
	v.SetDefault("SCAN.BUDGET", 120*time.Second)
	v.SetDefault("SCAN.DAILY_RUN_HOUR", 6)
	v.SetDefault("ALERTING.URGENT_THRESHOLD_DAYS", 7)
	v.SetDefault("ALERTING.WARNING_THRESHOLD_DAYS", 30)
}
