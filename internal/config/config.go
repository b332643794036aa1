package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// APIServerConfig 保存 API 服务器特有的配置。
type APIServerConfig struct {
	Host            string          `mapstructure:"HOST"`
	Port            string          `mapstructure:"PORT"`
	ReadTimeout     time.Duration   `mapstructure:"READ_TIMEOUT"`
	WriteTimeout    time.Duration   `mapstructure:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration   `mapstructure:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration   `mapstructure:"SHUTDOWN_TIMEOUT"`
	CORS            CORSConfig      `mapstructure:"CORS"`
	RateLimit       RateLimitConfig `mapstructure:"RATE_LIMIT"`
}

// NotifyServerConfig 保存通知推送服务 (websocket) 的配置。
type NotifyServerConfig struct {
	Host          string `mapstructure:"HOST"`
	Port          string `mapstructure:"PORT"`
	WebSocketPath string `mapstructure:"WEBSOCKET_PATH"`
}

// CORSConfig holds configuration for CORS.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `mapstructure:"ALLOWED_METHODS"`
	AllowedHeaders   []string `mapstructure:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `mapstructure:"EXPOSED_HEADERS"`
	AllowCredentials bool     `mapstructure:"ALLOW_CREDENTIALS"`
	MaxAge           int      `mapstructure:"MAX_AGE"`
}

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"ENABLED"`
	RequestsPerSecond float64       `mapstructure:"REQUESTS_PER_SECOND"`
	Burst             int           `mapstructure:"BURST"`
	IdleTTL           time.Duration `mapstructure:"IDLE_TTL"`
}

// RedisConfig holds configuration for Redis.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"ENABLED"`
	Addr     string `mapstructure:"ADDR"`
	Password string `mapstructure:"PASSWORD"`
	DB       int    `mapstructure:"DB"`
}

// Config holds all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName       string              `mapstructure:"APP_NAME"`
	AppVersion    string              `mapstructure:"APP_VERSION"`
	LogLevel      string              `mapstructure:"LOG_LEVEL"`
	LogFormat     string              `mapstructure:"LOG_FORMAT"`
	APIServer     APIServerConfig     `mapstructure:"API_SERVER"`
	NotifyServer  NotifyServerConfig  `mapstructure:"NOTIFY_SERVER"`
	Kafka         KafkaConfig         `mapstructure:"KAFKA"`
	Notifications NotificationsConfig `mapstructure:"NOTIFICATIONS"`
	Database      DatabaseConfig      `mapstructure:"DATABASE"`
	Auth          AuthConfig          `mapstructure:"AUTH"`
	Accounts      AccountsConfig      `mapstructure:"ACCOUNTS"`
	WebSocket     WebSocketConfig     `mapstructure:"WEBSOCKET"`
	Redis         RedisConfig         `mapstructure:"REDIS"`
}

// KafkaConfig holds configuration for Kafka.
type KafkaConfig struct {
	Brokers            []string      `mapstructure:"BROKERS"`
	ClientID           string        `mapstructure:"CLIENT_ID"`
	Protocol           string        `mapstructure:"PROTOCOL"`
	NotificationsTopic string        `mapstructure:"NOTIFICATIONS_TOPIC"` // 关系变更通知，按接收者分区
	ConsumerGroup      string        `mapstructure:"CONSUMER_GROUP"`      // notifyserver 消费者组
	Acks               string        `mapstructure:"ACKS"`
	DeliveryTimeout    time.Duration `mapstructure:"DELIVERY_TIMEOUT"`
}

// NotificationsConfig tunes the in-process dispatcher in front of the producer.
type NotificationsConfig struct {
	QueueSize       int           `mapstructure:"QUEUE_SIZE"`
	Workers         int           `mapstructure:"WORKERS"`
	PublishTimeout  time.Duration `mapstructure:"PUBLISH_TIMEOUT"`
	NotifyOnRequest bool          `mapstructure:"NOTIFY_ON_REQUEST"`
}

// DatabaseConfig holds configuration for the database.
type DatabaseConfig struct {
	Type            string        `mapstructure:"TYPE"`
	Host            string        `mapstructure:"HOST"`
	Port            int           `mapstructure:"PORT"`
	User            string        `mapstructure:"USER"`
	Password        string        `mapstructure:"PASSWORD"`
	DBName          string        `mapstructure:"DB_NAME"`
	SSLMode         string        `mapstructure:"SSL_MODE"`
	SQLitePath      string        `mapstructure:"SQLITE_PATH"`
	AutoMigrate     bool          `mapstructure:"AUTO_MIGRATE"`
	MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `mapstructure:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
	SlowThreshold   time.Duration `mapstructure:"SLOW_THRESHOLD"`
}

// AuthConfig holds configuration for validating bearer tokens.
type AuthConfig struct {
	JWTSecretKey string `mapstructure:"JWT_SECRET_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
}

// AccountsConfig points at the account service used to enrich listings.
type AccountsConfig struct {
	BaseURL  string        `mapstructure:"BASE_URL"`
	Timeout  time.Duration `mapstructure:"TIMEOUT"`
	CacheTTL time.Duration `mapstructure:"CACHE_TTL"`
}

// WebSocketConfig holds configuration for WebSocket connections.
type WebSocketConfig struct {
	WriteWaitSeconds    int `mapstructure:"WRITE_WAIT_SECONDS"`
	PongWaitSeconds     int `mapstructure:"PONG_WAIT_SECONDS"`
	PingPeriodSeconds   int `mapstructure:"PING_PERIOD_SECONDS"`
	MaxMessageSizeBytes int `mapstructure:"MAX_MESSAGE_SIZE_BYTES"`
	SendBufferSize      int `mapstructure:"SEND_BUFFER_SIZE"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()

	v.SetDefault("APP_NAME", "friends-go")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("API_SERVER.HOST", "0.0.0.0")
	v.SetDefault("API_SERVER.PORT", "8081")
	v.SetDefault("API_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("API_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("API_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("API_SERVER.SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("API_SERVER.CORS.ALLOWED_ORIGINS", []string{"http://localhost:5173"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"})
	v.SetDefault("API_SERVER.CORS.EXPOSED_HEADERS", []string{"Content-Length", "X-Request-ID"})
	v.SetDefault("API_SERVER.CORS.ALLOW_CREDENTIALS", true)
	v.SetDefault("API_SERVER.CORS.MAX_AGE", 300) // 5 minutes
	v.SetDefault("API_SERVER.RATE_LIMIT.ENABLED", true)
	v.SetDefault("API_SERVER.RATE_LIMIT.REQUESTS_PER_SECOND", 20.0)
	v.SetDefault("API_SERVER.RATE_LIMIT.BURST", 40)
	v.SetDefault("API_SERVER.RATE_LIMIT.IDLE_TTL", 5*time.Minute)

	// 通知推送服务
	v.SetDefault("NOTIFY_SERVER.HOST", "0.0.0.0")
	v.SetDefault("NOTIFY_SERVER.PORT", "8082")
	v.SetDefault("NOTIFY_SERVER.WEBSOCKET_PATH", "/ws/notifications")

	v.SetDefault("KAFKA.BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA.CLIENT_ID", "friends-go")
	v.SetDefault("KAFKA.PROTOCOL", "plaintext")
	v.SetDefault("KAFKA.NOTIFICATIONS_TOPIC", "ACCOUNT_CHANGES")
	v.SetDefault("KAFKA.CONSUMER_GROUP", "friends-notify-server")
	v.SetDefault("KAFKA.ACKS", "all")
	v.SetDefault("KAFKA.DELIVERY_TIMEOUT", 10*time.Second)

	v.SetDefault("NOTIFICATIONS.QUEUE_SIZE", 1024)
	v.SetDefault("NOTIFICATIONS.WORKERS", 4)
	v.SetDefault("NOTIFICATIONS.PUBLISH_TIMEOUT", 5*time.Second)
	v.SetDefault("NOTIFICATIONS.NOTIFY_ON_REQUEST", false)

	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "password")
	v.SetDefault("DATABASE.DB_NAME", "friends_db")
	v.SetDefault("DATABASE.SSL_MODE", "disable")
	v.SetDefault("DATABASE.SQLITE_PATH", "friends.db")
	v.SetDefault("DATABASE.AUTO_MIGRATE", true)
	v.SetDefault("DATABASE.MAX_OPEN_CONNS", 25)
	v.SetDefault("DATABASE.MAX_IDLE_CONNS", 5)
	v.SetDefault("DATABASE.CONN_MAX_LIFETIME", 30*time.Minute)
	v.SetDefault("DATABASE.SLOW_THRESHOLD", 200*time.Millisecond)

	v.SetDefault("AUTH.JWT_SECRET_KEY", "a_very_secret_key_that_should_be_changed")
	v.SetDefault("AUTH.JWT_ISSUER", "")

	v.SetDefault("ACCOUNTS.BASE_URL", "http://localhost:8080/api/v1/accounts")
	v.SetDefault("ACCOUNTS.TIMEOUT", 3*time.Second)
	v.SetDefault("ACCOUNTS.CACHE_TTL", 5*time.Minute)

	v.SetDefault("REDIS.ENABLED", true)
	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)

	v.SetDefault("WEBSOCKET.WRITE_WAIT_SECONDS", 10)
	v.SetDefault("WEBSOCKET.PONG_WAIT_SECONDS", 60)
	v.SetDefault("WEBSOCKET.PING_PERIOD_SECONDS", 54) // (60 * 9) / 10
	v.SetDefault("WEBSOCKET.MAX_MESSAGE_SIZE_BYTES", 512)
	v.SetDefault("WEBSOCKET.SEND_BUFFER_SIZE", 64)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// NOTIFICATIONS_WORKERS 覆盖 Notifications.Workers
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		// 没有配置文件时使用默认值
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}
