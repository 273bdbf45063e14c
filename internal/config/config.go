package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `json:"server"`
	Database    DatabaseConfig    `json:"database"`
	Platform    PlatformConfig    `json:"platform"`
	AWS         AWSConfig         `json:"aws"`
	Onboarding  OnboardingConfig  `json:"onboarding"`
	SMS         SMSConfig         `json:"sms"`
	Logging     LoggingConfig     `json:"logging"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	AllowedOrigins  []string      `json:"allowed_origins"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
}

// PlatformConfig points at the hosted backend that owns identities and
// privileged provisioning functions.
type PlatformConfig struct {
	URL            string        `json:"url"`
	AnonKey        string        `json:"anon_key"`
	ServiceKey     string        `json:"service_key"`
	JWTSecret      string        `json:"jwt_secret"`
	RequestTimeout time.Duration `json:"request_timeout"`
	RetryMax       int           `json:"retry_max"`
}

// AWSConfig
type AWSConfig struct {
	Region       string `json:"region"`
	Endpoint     string `json:"endpoint"`
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	AvatarBucket string `json:"avatar_bucket"`
	EmailFrom    string `json:"email_from"`
}

// OnboardingConfig tunes the workflow engine.
type OnboardingConfig struct {
	// InstallationID keys the workflow before any account exists.
	InstallationID string `json:"installation_id"`
	// VerifyDelay is the pause before re-probing a freshly created super-admin.
	VerifyDelay time.Duration `json:"verify_delay"`
	// VerifyAttempts bounds the number of confirmation probes.
	VerifyAttempts int `json:"verify_attempts"`
	// VerifyBackoff multiplies the delay between attempts.
	VerifyBackoff float64 `json:"verify_backoff"`
	// SessionTTL evicts idle engines from memory.
	SessionTTL time.Duration `json:"session_ttl"`
}

// SMSConfig
type SMSConfig struct {
	SenderID    string        `json:"sender_id"`
	CodeTTL     time.Duration `json:"code_ttl"`
	MaxAttempts int           `json:"max_attempts"`
	MaxSends    int           `json:"max_sends"`
	SendWindow  time.Duration `json:"send_window"`
	// CountryCode is prefixed to national numbers such as 0612345678.
	CountryCode string `json:"country_code"`
}

// LoggingConfig
type LoggingConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// MaintenanceConfig holds cron specs for housekeeping jobs.
type MaintenanceConfig struct {
	PurgeSMSCodes   string `json:"purge_sms_codes"`
	EvictSessions   string `json:"evict_sessions"`
	DisableSchedule bool   `json:"disable_schedule"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "garage_portal",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    30 * time.Minute,
		},
		Platform: PlatformConfig{
			RequestTimeout: 30 * time.Second,
			RetryMax:       3,
		},
		AWS: AWSConfig{
			Region: "eu-west-3",
		},
		Onboarding: OnboardingConfig{
			InstallationID: "default",
			VerifyDelay:    time.Second,
			VerifyAttempts: 3,
			VerifyBackoff:  2,
			SessionTTL:     30 * time.Minute,
		},
		SMS: SMSConfig{
			SenderID:    "GARAGE",
			CodeTTL:     10 * time.Minute,
			MaxAttempts: 5,
			MaxSends:    3,
			SendWindow:  time.Hour,
			CountryCode: "+33",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Maintenance: MaintenanceConfig{
			PurgeSMSCodes: "0 */15 * * * *",
			EvictSessions: "0 */5 * * * *",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := overrideWithEnv(config); err != nil {
		return nil, err
	}

	return config, nil
}

func overrideWithEnv(config *Config) error {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", port, err)
		}
		config.Server.Port = p
	}

	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}

	if v := os.Getenv("PLATFORM_URL"); v != "" {
		config.Platform.URL = v
	}
	if v := os.Getenv("PLATFORM_ANON_KEY"); v != "" {
		config.Platform.AnonKey = v
	}
	if v := os.Getenv("PLATFORM_SERVICE_KEY"); v != "" {
		config.Platform.ServiceKey = v
	}
	if v := os.Getenv("PLATFORM_JWT_SECRET"); v != "" {
		config.Platform.JWTSecret = v
	}

	if v := os.Getenv("AWS_REGION"); v != "" {
		config.AWS.Region = v
	}
	if v := os.Getenv("AWS_ENDPOINT_URL"); v != "" {
		config.AWS.Endpoint = v
	}
	if v := os.Getenv("AVATAR_BUCKET"); v != "" {
		config.AWS.AvatarBucket = v
	}
	if v := os.Getenv("EMAIL_FROM"); v != "" {
		config.AWS.EmailFrom = v
	}

	if v := os.Getenv("INSTALLATION_ID"); v != "" {
		config.Onboarding.InstallationID = v
	}
	if v := os.Getenv("ONBOARDING_VERIFY_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid ONBOARDING_VERIFY_DELAY %q: %w", v, err)
		}
		config.Onboarding.VerifyDelay = d
	}
	if v := os.Getenv("ONBOARDING_VERIFY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ONBOARDING_VERIFY_ATTEMPTS %q: %w", v, err)
		}
		config.Onboarding.VerifyAttempts = n
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	return nil
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
