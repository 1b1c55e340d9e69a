package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Signaling SignalingConfig `mapstructure:"signaling"`
	Calling   CallingConfig   `mapstructure:"calling"`
	Events    EventsConfig    `mapstructure:"events"`
	Log       LogConfig       `mapstructure:"log"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// SignalingConfig configures the WebRTC signaling provider connection.
type SignalingConfig struct {
	URL            string        `mapstructure:"url"`
	STUNServers    []string      `mapstructure:"stun_servers"`
	UDPPortMin     uint16        `mapstructure:"udp_port_min"`
	UDPPortMax     uint16        `mapstructure:"udp_port_max"`
	CallerName     string        `mapstructure:"caller_name"`
	EventBuffer    int           `mapstructure:"event_buffer"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// DTMFMode is "info" (signaling) or "inband" (RTP tones).
	DTMFMode       string        `mapstructure:"dtmf_mode"`
}

type CallingConfig struct {
	HistoryLimit int `mapstructure:"history_limit"`
	// LogOutboundFrom is the earliest call state an outbound attempt must
	// reach before it is written to the call log.
	LogOutboundFrom string `mapstructure:"log_outbound_from"`
}

type EventsConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`

	Webhook WebhookConfig `mapstructure:"webhook"`
}

// WebhookConfig posts every finished call to a chat or HTTP endpoint.
type WebhookConfig struct {
	URL       string `mapstructure:"url"`
	Platform  string `mapstructure:"platform"` // generic, telegram, slack
	Template  string `mapstructure:"template"`
	ChannelID string `mapstructure:"channel_id"`
}

var AppConfig Config

// LoadEnv loads ENV_FILE (or .env) into the process environment. A missing
// file is not an error.
func LoadEnv() error {
	envfile := os.Getenv("ENV_FILE")
	if envfile == "" {
		envfile = ".env"
	}
	if _, err := os.Stat(envfile); err != nil {
		return nil
	}
	return godotenv.Load(envfile)
}

func LoadConfig() {
	if err := LoadEnv(); err != nil {
		log.Printf("Warning: failed to load env file: %v", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Config file not found, using defaults. Error: %v", err)
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	AppConfig.ApplyDefaults()

	log.Println("Configuration loaded successfully")
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = "CHANGE_ME_IN_PROD"
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Signaling.URL == "" {
		c.Signaling.URL = "wss://rtc.telnyx.com"
	}
	if len(c.Signaling.STUNServers) == 0 {
		c.Signaling.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}
	if c.Signaling.CallerName == "" {
		c.Signaling.CallerName = "WebRTC Softphone"
	}
	if c.Signaling.EventBuffer <= 0 {
		c.Signaling.EventBuffer = 64
	}
	if c.Signaling.DTMFMode == "" {
		c.Signaling.DTMFMode = "info"
	}
	if c.Signaling.RequestTimeout <= 0 {
		c.Signaling.RequestTimeout = 10 * time.Second
	}
	if c.Calling.HistoryLimit <= 0 {
		c.Calling.HistoryLimit = 50
	}
	if c.Calling.LogOutboundFrom == "" {
		c.Calling.LogOutboundFrom = "recovering"
	}
	if c.Events.ChannelPrefix == "" {
		c.Events.ChannelPrefix = "softphone"
	}
}
