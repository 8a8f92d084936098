package config

import (
	"fmt"     // DSN formatting
	"os"      // For environment variables
	"strconv" // For string to int conversion
	"time"    // Durations derived from seconds

	"github.com/joho/godotenv" // For loading .env files
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds the application configuration
type Config struct {
	AppPort        string        // Application port
	AppEnv         string        // development, production or unset
	DBDriver       string        // mysql, postgres or sqlite
	DBUser         string        // Database user
	DBPassword     string        // Database password
	DBHost         string        // Database host
	DBPort         string        // Database port
	DBName         string        // Database name (file path for sqlite)
	DBDSN          string        // Full DSN, overrides the parts above
	JWTSecret      string        // JWT secret key
	RedisAddr      string        // Redis server address
	RedisPass      string        // Redis password
	RedisDB        int           // Redis database number
	CacheTTL       time.Duration // TTL of list and detail cache entries
	ConflictWindow time.Duration // Window for concurrent-edit detection
	LogLevel       string        // logrus level name
	ClientOrigin   string        // Allowed websocket origin, empty allows any
	AutoMigrate    bool          // Run the schema migration on server startup
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	_ = godotenv.Load() // Load .env file if present
	redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	autoMigrate, _ := strconv.ParseBool(os.Getenv("AUTO_MIGRATE"))
	return &Config{
		AppPort:        getEnv("APP_PORT", "8080"),
		AppEnv:         os.Getenv("APP_ENV"),
		DBDriver:       getEnv("DB_DRIVER", "mysql"),
		DBUser:         os.Getenv("DB_USER"),
		DBPassword:     os.Getenv("DB_PASSWORD"),
		DBHost:         getEnv("DB_HOST", "127.0.0.1"),
		DBPort:         os.Getenv("DB_PORT"),
		DBName:         os.Getenv("DB_NAME"),
		DBDSN:          os.Getenv("DB_DSN"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		RedisAddr:      getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPass:      os.Getenv("REDIS_PASS"),
		RedisDB:        redisDB,
		CacheTTL:       getSeconds("CACHE_TTL_SECONDS", 300),
		ConflictWindow: getSeconds("CONFLICT_WINDOW_SECONDS", 5),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		ClientOrigin:   os.Getenv("CLIENT_ORIGIN"),
		AutoMigrate:    autoMigrate,
	}
}

// IsProd reports whether the service runs in production mode
func (c *Config) IsProd() bool {
	return c.AppEnv == EnvProduction
}

// IsDevelopment reports whether cache hits should be ignored on reads. Only an explicit
// APP_ENV=development enables it.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// DSN returns the data source name for the configured driver
func (c *Config) DSN() string {
	if c.DBDSN != "" {
		return c.DBDSN
	}
	switch c.DBDriver {
	case "postgres":
		port := c.DBPort
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			c.DBHost, c.DBUser, c.DBPassword, c.DBName, port)
	case "sqlite":
		if c.DBName == "" {
			return "finance.db"
		}
		return c.DBName
	default:
		port := c.DBPort
		if port == "" {
			port = "3306"
		}
		return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + port + ")/" + c.DBName + "?parseTime=true&loc=UTC"
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getSeconds(key string, fallback int) time.Duration {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return time.Duration(v) * time.Second
	}
	return time.Duration(fallback) * time.Second
}
