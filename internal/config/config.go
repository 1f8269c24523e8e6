package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config содержит конфигурацию приложения
type Config struct {
	Environment string
	Server      ServerConfig
	Redis       RedisConfig
	MySQL       MySQLConfig
	MQTT        MQTTConfig
	Auth        AuthConfig
	Geo         GeoConfig
	Cache       CacheConfig
	API         APIConfig
	Performance PerformanceConfig
	Monitoring  MonitoringConfig
}

// ServerConfig конфигурация HTTP сервера
type ServerConfig struct {
	Address      string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// RedisConfig конфигурация Redis
type RedisConfig struct {
	URL          string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	OpTimeout    time.Duration
}

// MySQLConfig конфигурация MySQL (источник данных об объектах)
type MySQLConfig struct {
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
	QueryTimeout time.Duration
}

// MQTTConfig конфигурация фида обновлений объектов
type MQTTConfig struct {
	Enabled      bool
	URL          string
	ClientID     string
	Username     string
	Password     string
	CleanSession bool
	Topic        string
}

// AuthConfig конфигурация аутентификации. Пустой APIKey отключает проверку.
type AuthConfig struct {
	APIKey string
}

// GeoConfig конфигурация геопространственных настроек
type GeoConfig struct {
	DefaultRadiusKm float64
	MaxRadiusKm     float64
}

// CacheConfig конфигурация слоя кеширования
type CacheConfig struct {
	BaseTTL               time.Duration
	WarmingEnabled        bool
	WarmItemLimit         int
	OptimizerSampleSize   int
	OptimizerHitRateFloor float64
	OptimizerReducedTTL   time.Duration
	ReconcileInterval     time.Duration
}

// APIConfig настройки REST-эндпоинтов
type APIConfig struct {
	ListPageSize        int    // размер страницы листинга
	AggregateGroupField string // neighbourhood или city
}

// PerformanceConfig конфигурация производительности
type PerformanceConfig struct {
	MaxBatchSize          int
	BatchTimeout          time.Duration
	WebSocketPingInterval time.Duration
	WebSocketPongTimeout  time.Duration
	RateLimitPerMinute    int
}

// MonitoringConfig конфигурация мониторинга
type MonitoringConfig struct {
	MetricsEnabled bool
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Address:      getEnv("SERVER_ADDRESS", ":8080"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", "redis://localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getInt("REDIS_DB", 0),
			PoolSize:     getInt("REDIS_POOL_SIZE", 100),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 10),
			OpTimeout:    getDuration("REDIS_OP_TIMEOUT", 500*time.Millisecond),
		},
		MySQL: MySQLConfig{
			DSN:          getEnv("MYSQL_DSN", ""),
			MaxIdleConns: getInt("MYSQL_MAX_IDLE_CONNS", 10),
			MaxOpenConns: getInt("MYSQL_MAX_OPEN_CONNS", 100),
			QueryTimeout: getDuration("MYSQL_QUERY_TIMEOUT", 5*time.Second),
		},
		MQTT: MQTTConfig{
			Enabled:      getBool("MQTT_ENABLED", false),
			URL:          getEnv("MQTT_URL", "tcp://localhost:1883"),
			ClientID:     getEnv("MQTT_CLIENT_ID", "proximity-api"),
			Username:     getEnv("MQTT_USERNAME", ""),
			Password:     getEnv("MQTT_PASSWORD", ""),
			CleanSession: getBool("MQTT_CLEAN_SESSION", false),
			Topic:        getEnv("MQTT_TOPIC", "properties/updates"),
		},
		Auth: AuthConfig{
			APIKey: getEnv("API_KEY", ""),
		},
		Geo: GeoConfig{
			DefaultRadiusKm: getFloat("DEFAULT_RADIUS_KM", 5),
			MaxRadiusKm:     getFloat("MAX_RADIUS_KM", 200),
		},
		Cache: CacheConfig{
			BaseTTL:               getDuration("CACHE_BASE_TTL", time.Hour),
			WarmingEnabled:        getBool("CACHE_WARMING_ENABLED", true),
			WarmItemLimit:         getInt("CACHE_WARM_ITEM_LIMIT", 10),
			OptimizerSampleSize:   getInt("CACHE_OPTIMIZER_SAMPLE_SIZE", 100),
			OptimizerHitRateFloor: getFloat("CACHE_OPTIMIZER_HIT_RATE_FLOOR", 0.3),
			OptimizerReducedTTL:   getDuration("CACHE_OPTIMIZER_REDUCED_TTL", 30*time.Minute),
			ReconcileInterval:     getDuration("CACHE_RECONCILE_INTERVAL", 5*time.Minute),
		},
		API: APIConfig{
			ListPageSize:        getInt("API_LIST_PAGE_SIZE", 20),
			AggregateGroupField: getEnv("API_AGGREGATE_GROUP_FIELD", "neighbourhood"),
		},
		Performance: PerformanceConfig{
			MaxBatchSize:          getInt("MAX_BATCH_SIZE", 100),
			BatchTimeout:          getDuration("BATCH_TIMEOUT", 5*time.Second),
			WebSocketPingInterval: getDuration("WEBSOCKET_PING_INTERVAL", 30*time.Second),
			WebSocketPongTimeout:  getDuration("WEBSOCKET_PONG_TIMEOUT", 60*time.Second),
			RateLimitPerMinute:    getInt("RATE_LIMIT_PER_MINUTE", 100),
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled: getBool("METRICS_ENABLED", true),
		},
	}

	// Валидация
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.MySQL.DSN == "" {
		return fmt.Errorf("MYSQL_DSN is required")
	}

	if c.MQTT.Enabled && c.MQTT.URL == "" {
		return fmt.Errorf("MQTT_URL is required when MQTT is enabled")
	}

	if c.Geo.MaxRadiusKm <= 0 {
		return fmt.Errorf("MAX_RADIUS_KM must be positive")
	}

	if c.Geo.DefaultRadiusKm <= 0 || c.Geo.DefaultRadiusKm > c.Geo.MaxRadiusKm {
		return fmt.Errorf("DEFAULT_RADIUS_KM must be within (0, MAX_RADIUS_KM]")
	}

	if c.Cache.BaseTTL <= 0 {
		return fmt.Errorf("CACHE_BASE_TTL must be positive")
	}

	if c.Cache.OptimizerSampleSize <= 0 {
		return fmt.Errorf("CACHE_OPTIMIZER_SAMPLE_SIZE must be positive")
	}

	if c.Cache.OptimizerHitRateFloor <= 0 || c.Cache.OptimizerHitRateFloor >= 1 {
		return fmt.Errorf("CACHE_OPTIMIZER_HIT_RATE_FLOOR must be within (0, 1)")
	}

	if c.API.ListPageSize <= 0 {
		return fmt.Errorf("API_LIST_PAGE_SIZE must be positive")
	}

	if c.API.AggregateGroupField != "neighbourhood" && c.API.AggregateGroupField != "city" {
		return fmt.Errorf("API_AGGREGATE_GROUP_FIELD must be neighbourhood or city")
	}

	if c.Performance.MaxBatchSize <= 0 {
		return fmt.Errorf("MAX_BATCH_SIZE must be positive")
	}

	if c.Performance.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}

	return nil
}

// Helper функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// LogLevel возвращает уровень логирования
func LogLevel() string {
	return getEnv("LOG_LEVEL", "info")
}

// LogFormat возвращает формат логирования
func LogFormat() string {
	return getEnv("LOG_FORMAT", "json")
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func IsDevelopment() bool {
	return getEnv("APP_ENV", "production") == "development"
}

// IsProduction проверяет, запущено ли приложение в production
func IsProduction() bool {
	return getEnv("APP_ENV", "production") == "production"
}
