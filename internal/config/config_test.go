package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	// Set required env vars for all subtests
	cleanup := setEnvs(t, map[string]string{
		"MQTT_BROKER_URL": "tcp://localhost:1883",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.APIAddr() != "0.0.0.0:8080" {
			t.Errorf("APIAddr = %q, want 0.0.0.0:8080", cfg.APIAddr())
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.TopicsV5008 != "V5008Upload/#" {
			t.Errorf("TopicsV5008 = %q, want V5008Upload/#", cfg.TopicsV5008)
		}
		if cfg.MQTTClientID != "gatewaylink" {
			t.Errorf("MQTTClientID = %q, want gatewaylink", cfg.MQTTClientID)
		}
		if !cfg.StorageEnabled {
			t.Error("StorageEnabled = false, want true")
		}
		if cfg.StorageBatchSize != 100 {
			t.Errorf("StorageBatchSize = %d, want 100", cfg.StorageBatchSize)
		}
		if cfg.HeartbeatTimeout.Seconds() != 120 {
			t.Errorf("HeartbeatTimeout = %v, want 120s", cfg.HeartbeatTimeout)
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cfg, err := Load(Overrides{
			EnvFile:       "nonexistent.env",
			APIAddr:       "127.0.0.1:9090",
			LogLevel:      "debug",
			MQTTBrokerURL: "tcp://override:1883",
			DBHost:        "dbhost",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.APIAddr() != "127.0.0.1:9090" {
			t.Errorf("APIAddr = %q, want 127.0.0.1:9090", cfg.APIAddr())
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.MQTTBrokerURL != "tcp://override:1883" {
			t.Errorf("MQTTBrokerURL = %q, want override", cfg.MQTTBrokerURL)
		}
		if cfg.DBHost != "dbhost" {
			t.Errorf("DBHost = %q, want dbhost", cfg.DBHost)
		}
	})

	t.Run("database_url_assembly", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName = "h", 5433, "u", "secret", "d"
		want := "postgres://u:secret@h:5433/d"
		if got := cfg.DatabaseURL(); got != want {
			t.Errorf("DatabaseURL = %q, want %q", got, want)
		}
	})

	t.Run("webhook_secret_autogenerated", func(t *testing.T) {
		c := setEnvs(t, map[string]string{"WEBHOOK_ENABLED": "true", "WEBHOOK_URL": "http://example/hook"})
		defer c()
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.WebhookSecret == "" {
			t.Error("WebhookSecret not auto-generated")
		}
	})
}

func TestLoadMissingRequired(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{"MQTT_BROKER_URL": ""})
	defer cleanup()
	os.Unsetenv("MQTT_BROKER_URL")

	_, err := Load(Overrides{EnvFile: "nonexistent.env"})
	if err == nil {
		t.Error("expected error when required env vars are missing")
	}
}

func TestRedactedView(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"MQTT_BROKER_URL": "tcp://localhost:1883",
		"MQTT_PASSWORD":   "hunter2",
		"DB_PASSWORD":     "pgpass",
	})
	defer cleanup()

	cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	view := cfg.RedactedView()
	if view["mqttPassword"] != Redacted {
		t.Errorf("mqttPassword = %v, want redacted", view["mqttPassword"])
	}
	if view["dbPassword"] != Redacted {
		t.Errorf("dbPassword = %v, want redacted", view["dbPassword"])
	}
	if view["mqttBrokerUrl"] != "tcp://localhost:1883" {
		t.Errorf("mqttBrokerUrl = %v, want broker url intact", view["mqttBrokerUrl"])
	}
	// Empty secrets stay empty rather than pretending a value exists.
	if view["webhookSecret"] != "" {
		t.Errorf("webhookSecret = %v, want empty", view["webhookSecret"])
	}
	// Durations render as strings for readability.
	if view["heartbeatTimeout"] != "2m0s" {
		t.Errorf("heartbeatTimeout = %v, want 2m0s", view["heartbeatTimeout"])
	}
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}
