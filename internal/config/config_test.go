package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("Validate(Default()): %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != Default().Server.Port {
		t.Fatalf("port = %d, want default %d", cfg.Server.Port, Default().Server.Port)
	}
	if !cfg.Capture.Enabled || !cfg.Capture.CaptureBodies {
		t.Fatalf("capture defaults = %+v", cfg.Capture)
	}
	if cfg.Storage.Driver != "none" {
		t.Fatalf("storage.driver = %q, want none", cfg.Storage.Driver)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  host: 0.0.0.0
  port: 9000
capture:
  capacity: 10
  header_denylist: [x-secret]
storage:
  driver: sqlite
  path: /tmp/tap.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Server.Address(); got != "0.0.0.0:9000" {
		t.Fatalf("address = %q", got)
	}
	if cfg.Capture.Capacity != 10 {
		t.Fatalf("capacity = %d", cfg.Capture.Capacity)
	}
	if len(cfg.Capture.HeaderDenylist) != 1 || cfg.Capture.HeaderDenylist[0] != "x-secret" {
		t.Fatalf("header_denylist = %v", cfg.Capture.HeaderDenylist)
	}
	// Fields the file does not mention keep their defaults.
	if cfg.Capture.QueueSize != Default().Capture.QueueSize {
		t.Fatalf("queue_size = %d", cfg.Capture.QueueSize)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "/tmp/tap.db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfigFile(t, "server:\n  listen_port: 9000\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestParseReaderOverridesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Parse(strings.NewReader("capture:\n  capacity: 10\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Capture.Capacity != 10 {
		t.Fatalf("capacity = %d, want 10", cfg.Capture.Capacity)
	}
	if cfg.Server.Port != Default().Server.Port {
		t.Fatalf("port = %d, want default %d", cfg.Server.Port, Default().Server.Port)
	}
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 9000\n---\nserver:\n  port: 9001\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "multiple yaml documents") {
		t.Fatalf("err = %v, want multi-document rejection", err)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 9000\n")
	t.Setenv("HTTPTAP_PORT", "9100")
	t.Setenv("HTTPTAP_CAPTURE_BODIES", "false")
	t.Setenv("HTTPTAP_STORAGE_DRIVER", "postgres")
	t.Setenv("HTTPTAP_STORAGE_DSN", "postgres://localhost/tap")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("port = %d, want env override", cfg.Server.Port)
	}
	if cfg.Capture.CaptureBodies {
		t.Fatal("capture_bodies still true after env override")
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgres://localhost/tap" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestInvalidEnvValue(t *testing.T) {
	t.Setenv("HTTPTAP_PORT", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Fatal("expected an error for a bad HTTPTAP_PORT")
	}
}

func TestOTelEnvEnablesExport(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_SERVICE_NAME", "my-service")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	otel := cfg.Observability.OTel
	if !otel.Enabled {
		t.Fatal("OTel not enabled by exporter env vars")
	}
	if otel.Endpoint != "collector:4318" || otel.ServiceName != "my-service" {
		t.Fatalf("otel = %+v", otel)
	}
}

func TestOTelSDKDisabledWins(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_SDK_DISABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Observability.OTel.Enabled {
		t.Fatal("OTEL_SDK_DISABLED=true should keep export off")
	}
}

func TestOTelExporterNone(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "none")
	t.Setenv("OTEL_METRICS_EXPORTER", "otlp")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	otel := cfg.Observability.OTel
	if otel.TracesEnabled {
		t.Fatal("traces still enabled after OTEL_TRACES_EXPORTER=none")
	}
	if !otel.MetricsEnabled {
		t.Fatal("metrics disabled despite OTEL_METRICS_EXPORTER=otlp")
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad body size", func(c *Config) { c.Capture.BodyMaxSize = 0 }, "body_max_size"},
		{"bad capacity", func(c *Config) { c.Capture.Capacity = -1 }, "capture.capacity"},
		{"bad queue", func(c *Config) { c.Capture.QueueSize = 0 }, "queue_size"},
		{"bad driver", func(c *Config) { c.Storage.Driver = "mysql" }, "storage.driver"},
		{"sqlite without path", func(c *Config) {
			c.Storage.Driver = "sqlite"
			c.Storage.Path = ""
		}, "storage.path"},
		{"postgres without dsn", func(c *Config) {
			c.Storage.Driver = "postgres"
		}, "storage.dsn"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTel.Enabled = true
			c.Observability.OTel.Endpoint = ""
		}, "otel.endpoint"},
		{"otel nothing enabled", func(c *Config) {
			c.Observability.OTel.Enabled = true
			c.Observability.OTel.TracesEnabled = false
			c.Observability.OTel.MetricsEnabled = false
		}, "traces_enabled"},
		{"otel bad ratio", func(c *Config) {
			c.Observability.OTel.Enabled = true
			c.Observability.OTel.SamplingRatio = 1.5
		}, "sampling_ratio"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(&cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("err = %v, want mention of %q", err, tc.wantSub)
			}
		})
	}
}
