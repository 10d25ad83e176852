package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

type testOptions struct {
	Config string `help:"Config file path"`

	Socket     string   `toml:"transport.socket" env:"SOCKET"`
	FPS        uint32   `toml:"stream.fps" env:"FPS"`
	Width      uint32   `toml:"stream.width" env:"WIDTH"`
	MaxErrors  int      `toml:"session.max_stage_errors" env:"MAX_STAGE_ERRORS"`
	Candidates []string `toml:"stream.candidates" env:"CANDIDATES"`
	Metrics    bool     `toml:"api.metrics" env:"METRICS"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pwmirror.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeConfig(t, `
[transport]
socket = "/run/pwmirror.sock"

[stream]
fps = 30
width = 1920
candidates = ["XR24:0", "AR24:0"]

[session]
max_stage_errors = 5

[api]
metrics = true
`)

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	want := testOptions{
		Config:     path,
		Socket:     "/run/pwmirror.sock",
		FPS:        30,
		Width:      1920,
		MaxErrors:  5,
		Candidates: []string{"XR24:0", "AR24:0"},
		Metrics:    true,
	}
	if !reflect.DeepEqual(*opts, want) {
		t.Errorf("got %+v, want %+v", *opts, want)
	}
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	t.Setenv("PWMIRROR_SOCKET", "/tmp/env.sock")
	t.Setenv("PWMIRROR_FPS", "60")
	t.Setenv("PWMIRROR_CANDIDATES", " XB24:0 , AB24:0 ")
	t.Setenv("PWMIRROR_METRICS", "true")

	opts := &testOptions{}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.Socket != "/tmp/env.sock" {
		t.Errorf("Socket = %q, want /tmp/env.sock", opts.Socket)
	}
	if opts.FPS != 60 {
		t.Errorf("FPS = %d, want 60", opts.FPS)
	}
	if want := []string{"XB24:0", "AB24:0"}; !reflect.DeepEqual(opts.Candidates, want) {
		t.Errorf("Candidates = %v, want %v", opts.Candidates, want)
	}
	if !opts.Metrics {
		t.Error("Metrics = false, want true")
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := writeConfig(t, `
[transport]
socket = "/toml.sock"

[stream]
fps = 10
width = 640
`)
	t.Setenv("PWMIRROR_FPS", "20")
	t.Setenv("PWMIRROR_SOCKET", "/env.sock")

	cmd := &cobra.Command{Use: "test"}
	opts := &testOptions{Config: path}
	cmd.Flags().StringVar(&opts.Socket, "socket", "", "")
	if err := cmd.Flags().Set("socket", "/cli.sock"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.Socket != "/cli.sock" {
		t.Errorf("Socket = %q, want CLI value", opts.Socket)
	}
	if opts.FPS != 20 {
		t.Errorf("FPS = %d, want env value 20", opts.FPS)
	}
	if opts.Width != 640 {
		t.Errorf("Width = %d, want file value 640", opts.Width)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts := &testOptions{Config: filepath.Join(t.TempDir(), "missing.toml"), FPS: 30}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig should not fail for missing file: %v", err)
	}
	if opts.FPS != 30 {
		t.Errorf("FPS = %d, want default kept", opts.FPS)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
		want    string
	}{
		{name: "invalid toml", content: "[stream\nfps = ", want: "failed to parse TOML"},
		{name: "wrong type", content: "[stream]\nfps = \"fast\"", want: "stream.fps"},
		{name: "negative unsigned", content: "[stream]\nwidth = -1", want: "out of range"},
		{name: "unsigned overflow", content: "[stream]\nfps = 5000000000", want: "out of range"},
		{name: "bad env", env: map[string]string{"PWMIRROR_FPS": "sixty"}, want: "PWMIRROR_FPS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			opts := &testOptions{}
			if tt.content != "" {
				opts.Config = writeConfig(t, tt.content)
			}
			err := LoadConfig(opts, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := map[string]string{
		"Socket":         "socket",
		"MaxStageErrors": "max-stage-errors",
		"LoggingLevel":   "logging-level",
		"StreamFPS":      "stream-fps",
		"LoggingHTTP":    "logging-http",
		"HTTPAddr":       "http-addr",
	}
	for in, want := range tests {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"level1": map[string]any{
			"level2": map[string]any{
				"value": "nested_value",
			},
			"simple": "simple_value",
		},
		"root": "root_value",
	}

	tests := []struct {
		path     string
		expected any
	}{
		{"root", "root_value"},
		{"level1.simple", "simple_value"},
		{"level1.level2.value", "nested_value"},
		{"nonexistent", nil},
		{"root.child", nil},
		{"level1.nonexistent", nil},
	}

	for _, test := range tests {
		if result := getNestedValue(data, test.path); result != test.expected {
			t.Errorf("getNestedValue(%q) = %v, expected %v", test.path, result, test.expected)
		}
	}
}

func TestReadLoggingConfig(t *testing.T) {
	path := writeConfig(t, `
[logging]
level = "warn"
format = "json"
session = "debug"

[logging.modules]
transport = "error"
`)

	cfg, err := ReadLoggingConfig(path)
	if err != nil {
		t.Fatalf("ReadLoggingConfig failed: %v", err)
	}
	if cfg.Level != "warn" || cfg.Format != "json" {
		t.Errorf("level/format = %q/%q, want warn/json", cfg.Level, cfg.Format)
	}
	want := map[string]string{"session": "debug", "transport": "error"}
	if !reflect.DeepEqual(cfg.Modules, want) {
		t.Errorf("Modules = %v, want %v", cfg.Modules, want)
	}
}

func TestLoadLoggingConfigDefaults(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{name: "no path"},
		{name: "missing file", path: filepath.Join(t.TempDir(), "missing.toml")},
		{name: "invalid file", path: writeConfig(t, "[logging\n")},
		{name: "no logging table", path: writeConfig(t, "[stream]\nfps = 1\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadLoggingConfig(tt.path)
			if cfg.Level != "info" || cfg.Format != "text" || len(cfg.Modules) != 0 {
				t.Errorf("got %+v, want defaults", cfg)
			}
		})
	}
}
