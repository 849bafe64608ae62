package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"securechat/pkg/types"
)

// EnvPrefix namespaces every environment variable, e.g. SECURECHAT_CHAT_ENCRYPTION_KEY
const EnvPrefix = "SECURECHAT"

// minSecretLength applies to both the message key and the token secret
const minSecretLength = 16

// frameOverhead is the room left in a websocket frame for the envelope around
// a maximum size message body
const frameOverhead = 4 * 1024

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Chat      *ChatConfig      `json:"chat"`
	Auth      *AuthConfig      `json:"auth"`
	Log       *LogConfig       `json:"log"`
}

// FUNCTIONAL DISCOVERY: Database configuration supports SQLite optimizations
type DatabaseConfig struct {
	Path       string        `json:"path"`
	Timeout    time.Duration `json:"timeout"`
	RetryDelay time.Duration `json:"retry_delay" split_words:"true"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout" split_words:"true"`
	WriteTimeout time.Duration `json:"write_timeout" split_words:"true"`
}

// FUNCTIONAL DISCOVERY: An empty AllowedOrigins list accepts browser clients from any origin
type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval" split_words:"true"`
	ReadTimeout    time.Duration `json:"read_timeout" split_words:"true"`
	WriteTimeout   time.Duration `json:"write_timeout" split_words:"true"`
	BufferSize     int           `json:"buffer_size" split_words:"true"`
	MaxMessageSize int64         `json:"max_message_size" split_words:"true"`
	AllowedOrigins []string      `json:"allowed_origins" split_words:"true"`
}

// ChatConfig holds the realtime core settings
// ARCHITECTURAL DISCOVERY: EncryptionKey has no default; a literal secret in code
// would be shared by every deployment
type ChatConfig struct {
	MaxConnections int    `json:"max_connections" split_words:"true"`
	EncryptionKey  string `json:"encryption_key" split_words:"true"`
	RateLimit      int    `json:"rate_limit" split_words:"true"`
}

type AuthConfig struct {
	TokenSecret   string        `json:"token_secret" split_words:"true"`
	TokenDuration time.Duration `json:"token_duration" split_words:"true"`
	BcryptCost    int           `json:"bcrypt_cost" split_words:"true"`
}

type LogConfig struct {
	Level string `json:"level"`
}

// FUNCTIONAL DISCOVERY: Defaults run a single-node chat on the local filesystem;
// secrets are left empty and must be supplied
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:       "./securechat.db",
			Timeout:    30 * time.Second,
			RetryDelay: 5 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     100,
			MaxMessageSize: 128 * 1024,
		},
		Chat: &ChatConfig{
			MaxConnections: 10,
			RateLimit:      100,
		},
		Auth: &AuthConfig{
			TokenDuration: 24 * time.Hour,
			BcryptCost:    10,
		},
		Log: &LogConfig{
			Level: "INFO",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Critical for preventing runtime failures in production deployment
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.RetryDelay < 0 {
		return fmt.Errorf("database retry delay cannot be negative")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	// FUNCTIONAL DISCOVERY: An oversized body must reach validation and get an
	// error frame; a frame over the read limit drops the whole connection
	if c.WebSocket.MaxMessageSize < types.MaxMessageBytes+frameOverhead {
		return fmt.Errorf("WebSocket max message size must be at least %d bytes", types.MaxMessageBytes+frameOverhead)
	}

	if c.Chat == nil {
		return fmt.Errorf("chat configuration is required")
	}
	if c.Chat.MaxConnections <= 0 {
		return fmt.Errorf("chat max connections must be positive")
	}
	if len(c.Chat.EncryptionKey) < minSecretLength {
		return fmt.Errorf("chat encryption key must be at least %d characters", minSecretLength)
	}
	if c.Chat.RateLimit <= 0 {
		return fmt.Errorf("chat rate limit must be positive")
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	if len(c.Auth.TokenSecret) < minSecretLength {
		return fmt.Errorf("auth token secret must be at least %d characters", minSecretLength)
	}
	if c.Auth.TokenDuration <= 0 {
		return fmt.Errorf("auth token duration must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth bcrypt cost must be between 4 and 31")
	}

	if c.Log == nil || c.Log.Level == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// LoadFromEnv overlays SECURECHAT_* variables onto the defaults.
// envFiles are loaded first with godotenv; with none given an optional ./.env is read.
// Variables already set in the process environment win over file values.
func LoadFromEnv(envFiles ...string) (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config, envFiles...); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(config *Config, envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil {
		// The implicit ./.env is optional; explicitly named files are not
		if len(envFiles) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}

	// TECHNICAL DISCOVERY: envconfig leaves unset variables untouched, so the
	// defaults already in config survive
	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	return nil
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Chat      *ChatConfig          `json:"chat"`
	Auth      *AuthConfigFile      `json:"auth"`
	Log       *LogConfig           `json:"log"`
}

type DatabaseConfigFile struct {
	Path       string `json:"path"`
	Timeout    string `json:"timeout"`
	RetryDelay string `json:"retry_delay"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	Host         string `json:"host"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

type WebSocketConfigFile struct {
	PingInterval   string   `json:"ping_interval"`
	ReadTimeout    string   `json:"read_timeout"`
	WriteTimeout   string   `json:"write_timeout"`
	BufferSize     int      `json:"buffer_size"`
	MaxMessageSize int64    `json:"max_message_size"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type AuthConfigFile struct {
	TokenSecret   string `json:"token_secret"`
	TokenDuration string `json:"token_duration"`
	BcryptCost    int    `json:"bcrypt_cost"`
}

// FUNCTIONAL DISCOVERY: File-based configuration supports complex deployment scenarios
// JSON format chosen for readability and tooling support
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

// applyFile overlays every field the file sets; zero values leave config alone
func applyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	var errs []error
	if db := file.Database; db != nil {
		setString(&config.Database.Path, db.Path)
		errs = append(errs,
			setDuration(&config.Database.Timeout, db.Timeout, "database.timeout"),
			setDuration(&config.Database.RetryDelay, db.RetryDelay, "database.retry_delay"))
	}

	if h := file.HTTP; h != nil {
		setInt(&config.HTTP.Port, h.Port)
		setString(&config.HTTP.Host, h.Host)
		errs = append(errs,
			setDuration(&config.HTTP.ReadTimeout, h.ReadTimeout, "http.read_timeout"),
			setDuration(&config.HTTP.WriteTimeout, h.WriteTimeout, "http.write_timeout"))
	}

	if ws := file.WebSocket; ws != nil {
		setInt(&config.WebSocket.BufferSize, ws.BufferSize)
		if ws.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = ws.MaxMessageSize
		}
		if len(ws.AllowedOrigins) > 0 {
			config.WebSocket.AllowedOrigins = ws.AllowedOrigins
		}
		errs = append(errs,
			setDuration(&config.WebSocket.PingInterval, ws.PingInterval, "websocket.ping_interval"),
			setDuration(&config.WebSocket.ReadTimeout, ws.ReadTimeout, "websocket.read_timeout"),
			setDuration(&config.WebSocket.WriteTimeout, ws.WriteTimeout, "websocket.write_timeout"))
	}

	if chat := file.Chat; chat != nil {
		setInt(&config.Chat.MaxConnections, chat.MaxConnections)
		setString(&config.Chat.EncryptionKey, chat.EncryptionKey)
		setInt(&config.Chat.RateLimit, chat.RateLimit)
	}

	if auth := file.Auth; auth != nil {
		setString(&config.Auth.TokenSecret, auth.TokenSecret)
		setInt(&config.Auth.BcryptCost, auth.BcryptCost)
		errs = append(errs, setDuration(&config.Auth.TokenDuration, auth.TokenDuration, "auth.token_duration"))
	}

	if l := file.Log; l != nil {
		setString(&config.Log.Level, l.Level)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config file %s: %w", filepath, err)
	}
	return nil
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
// Enables flexible deployment patterns while maintaining sane defaults
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := DefaultConfig()

	if err := applyEnv(config); err != nil {
		return nil, err
	}

	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, field string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
}
