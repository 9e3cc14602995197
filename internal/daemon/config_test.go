package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("POMO_HOME", t.TempDir())
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8425 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8425)
	}
	if cfg.Settlement.MaxAttempts != 3 {
		t.Errorf("Settlement.MaxAttempts = %d, want 3", cfg.Settlement.MaxAttempts)
	}
	if cfg.CalendarTolerance() != time.Hour {
		t.Errorf("CalendarTolerance() = %v, want 1h", cfg.CalendarTolerance())
	}
	if cfg.Lock.Backend != LockLocal {
		t.Errorf("Lock.Backend = %q, want %q", cfg.Lock.Backend, LockLocal)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestPomoHomeFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("POMO_HOME", dir)

	if got := PomoHome(); got != dir {
		t.Errorf("PomoHome() = %q, want %q", got, dir)
	}
	if got := DefaultConfig().Database.Dir; got != dir {
		t.Errorf("Database.Dir = %q, want %q", got, dir)
	}
}

func TestSaveLoadConfig(t *testing.T) {
	t.Setenv("POMO_HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.API.Port = 9000
	cfg.Settlement.CalendarToleranceMinutes = 30
	cfg.Telemetry.Tracing = true
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	got, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", got.API.Port)
	}
	if got.CalendarTolerance() != 30*time.Minute {
		t.Errorf("CalendarTolerance() = %v, want 30m", got.CalendarTolerance())
	}
	if !got.Telemetry.Tracing {
		t.Error("Telemetry.Tracing should round-trip")
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("POMO_HOME", t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.Port != DefaultConfig().API.Port {
		t.Errorf("API.Port = %d, want default", cfg.API.Port)
	}
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("POMO_HOME", home)

	data := "[settlement]\nmax_attempts = 5\n"
	if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Settlement.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Settlement.MaxAttempts)
	}
	if cfg.Settlement.CalendarToleranceMinutes != 60 {
		t.Errorf("CalendarToleranceMinutes = %d, want default 60", cfg.Settlement.CalendarToleranceMinutes)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"syntax", "[api\nport = 1"},
		{"unknown backend", "[lock]\nbackend = \"etcd\"\n"},
		{"redis without addr", "[lock]\nbackend = \"redis\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := t.TempDir()
			t.Setenv("POMO_HOME", home)
			if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte(tt.data), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(); err == nil {
				t.Error("LoadConfig should fail")
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"45s", 45 * time.Second},
		{"2m", 2 * time.Minute},
		{"", 30 * time.Second},
		{"soon", 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseDuration(tt.input, 30*time.Second); got != tt.want {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
