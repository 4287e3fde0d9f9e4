// Package config loads the process configuration from .env file,
// environment variables, and CLI overrides, in that priority order
// (highest last). It also produces the redacted view the /api/config
// endpoint serves: any field tagged redact:"true" is masked before leaving
// the process.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Redacted is the placeholder value substituted for password-like fields in
// diagnostic output.
const Redacted = "***REDACTED***"

type Config struct {
	MQTTBrokerURL       string        `env:"MQTT_BROKER_URL,required" json:"mqttBrokerUrl"`
	MQTTClientID        string        `env:"MQTT_CLIENT_ID" envDefault:"gatewaylink" json:"mqttClientId"`
	MQTTUsername        string        `env:"MQTT_USERNAME" json:"mqttUsername"`
	MQTTPassword        string        `env:"MQTT_PASSWORD" json:"mqttPassword" redact:"true"`
	MQTTConnectTimeout  time.Duration `env:"MQTT_CONNECT_TIMEOUT" envDefault:"30s" json:"mqttConnectTimeout"`
	MQTTReconnectPeriod time.Duration `env:"MQTT_RECONNECT_PERIOD" envDefault:"5s" json:"mqttReconnectPeriod"`
	TopicsV5008         string        `env:"MQTT_TOPICS_V5008" envDefault:"V5008Upload/#" json:"topicsV5008"`
	TopicsV6800         string        `env:"MQTT_TOPICS_V6800" envDefault:"V6800Upload/#" json:"topicsV6800"`

	StorageEnabled       bool          `env:"STORAGE_ENABLED" envDefault:"true" json:"storageEnabled"`
	StorageFlushInterval time.Duration `env:"STORAGE_FLUSH_INTERVAL" envDefault:"1s" json:"storageFlushInterval"`
	StorageBatchSize     int           `env:"STORAGE_BATCH_SIZE" envDefault:"100" json:"storageBatchSize"`

	HeartbeatTimeout time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"120s" json:"heartbeatTimeout"`
	WatchdogInterval time.Duration `env:"WATCHDOG_INTERVAL" envDefault:"30s" json:"watchdogInterval"`

	APIEnabled bool   `env:"API_ENABLED" envDefault:"true" json:"apiEnabled"`
	APIHost    string `env:"API_HOST" envDefault:"0.0.0.0" json:"apiHost"`
	APIPort    int    `env:"API_PORT" envDefault:"8080" json:"apiPort"`

	WSEnabled bool `env:"WS_ENABLED" envDefault:"true" json:"wsEnabled"`
	WSPort    int  `env:"WS_PORT" envDefault:"8081" json:"wsPort"`

	WebhookEnabled bool   `env:"WEBHOOK_ENABLED" envDefault:"false" json:"webhookEnabled"`
	WebhookURL     string `env:"WEBHOOK_URL" json:"webhookUrl"`
	WebhookFilters string `env:"WEBHOOK_FILTERS" json:"webhookFilters"` // comma-separated messageTypes; empty = all
	WebhookSecret  string `env:"WEBHOOK_SECRET" json:"webhookSecret" redact:"true"`

	DBHost     string `env:"DB_HOST" envDefault:"localhost" json:"dbHost"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432" json:"dbPort"`
	DBUser     string `env:"DB_USER" envDefault:"gatewaylink" json:"dbUser"`
	DBPassword string `env:"DB_PASSWORD" json:"dbPassword" redact:"true"`
	DBName     string `env:"DB_NAME" envDefault:"gatewaylink" json:"dbName"`

	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s" json:"httpReadTimeout"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s" json:"httpWriteTimeout"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s" json:"httpIdleTimeout"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20" json:"rateLimitRps"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40" json:"rateLimitBurst"`
	CORSOrigins    string  `env:"CORS_ORIGINS" json:"corsOrigins"` // comma-separated allowed origins; empty = allow all (*)
	LogLevel       string  `env:"LOG_LEVEL" envDefault:"info" json:"logLevel"`
}

// DatabaseURL assembles the pgx connection string from the connection parts.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   "/" + c.DBName,
	}
	if c.DBPassword != "" {
		u.User = url.UserPassword(c.DBUser, c.DBPassword)
	} else {
		u.User = url.User(c.DBUser)
	}
	return u.String()
}

// APIAddr is the listen address for the HTTP surface.
func (c *Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}

// WSAddr is the listen address for the websocket push channel.
func (c *Config) WSAddr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.WSPort)
}

// WebhookFilterSet parses the filter list into a lookup set; nil means
// forward everything.
func (c *Config) WebhookFilterSet() map[string]bool {
	if strings.TrimSpace(c.WebhookFilters) == "" {
		return nil
	}
	set := make(map[string]bool)
	for _, f := range strings.Split(c.WebhookFilters, ",") {
		if f = strings.TrimSpace(f); f != "" {
			set[f] = true
		}
	}
	return set
}

// Validate rejects configurations the pipeline cannot start with.
func (c *Config) Validate() error {
	if c.MQTTBrokerURL == "" {
		return fmt.Errorf("MQTT_BROKER_URL must be set")
	}
	if c.WebhookEnabled && c.WebhookURL == "" {
		return fmt.Errorf("WEBHOOK_ENABLED requires WEBHOOK_URL")
	}
	return nil
}

// RedactedView renders the effective configuration with every field tagged
// redact:"true" masked, keyed by the field's json tag. This is what
// /api/config serves.
func (c *Config) RedactedView() map[string]any {
	out := make(map[string]any)
	v := reflect.ValueOf(*c)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := strings.Split(field.Tag.Get("json"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		val := v.Field(i).Interface()
		if field.Tag.Get("redact") == "true" {
			if s, ok := val.(string); !ok || s != "" {
				val = Redacted
			}
		}
		if d, ok := val.(time.Duration); ok {
			val = d.String()
		}
		out[name] = val
	}
	return out
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile       string
	APIAddr       string
	LogLevel      string
	MQTTBrokerURL string
	DBHost        string
}

// Load reads configuration from .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.APIAddr != "" {
		host, port := splitHostPort(overrides.APIAddr, cfg.APIPort)
		cfg.APIHost, cfg.APIPort = host, port
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.MQTTBrokerURL != "" {
		cfg.MQTTBrokerURL = overrides.MQTTBrokerURL
	}
	if overrides.DBHost != "" {
		cfg.DBHost = overrides.DBHost
	}

	// Auto-generate the webhook signing secret when the webhook is enabled
	// without one. The secret changes on each restart; set WEBHOOK_SECRET
	// in .env for a persistent value.
	if cfg.WebhookEnabled && cfg.WebhookSecret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err == nil {
			cfg.WebhookSecret = base64.URLEncoding.EncodeToString(b)
		}
	}

	return cfg, nil
}

func splitHostPort(addr string, defaultPort int) (string, int) {
	host, portStr, found := strings.Cut(addr, ":")
	if !found {
		return addr, defaultPort
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return host, defaultPort
	}
	return host, port
}
