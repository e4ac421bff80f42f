package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

func TestRelevantEvent(t *testing.T) {
	tests := []struct {
		op   fsnotify.Op
		want bool
	}{
		{fsnotify.Write, true},
		{fsnotify.Create, true},
		{fsnotify.Chmod, false},
		{fsnotify.Remove, false},
		{fsnotify.Rename, false},
	}

	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			if got := relevantEvent(fsnotify.Event{Name: "config.yaml", Op: tt.op}); got != tt.want {
				t.Errorf("relevantEvent(%v) = %v, want %v", tt.op, got, tt.want)
			}
		})
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("evaluator:\n  min_latency_ms: 1000\n"), 0644); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	SetDefaultsOn(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig failed: %v", err)
	}

	reloaded := make(chan *Config, 16)
	Watch(v, func(cfg *Config, err error) {
		if err == nil {
			reloaded <- cfg
		}
	})

	if err := os.WriteFile(path, []byte("evaluator:\n  min_latency_ms: 2500\n"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-reloaded:
			if cfg.Evaluator.MinLatencyMS == 2500 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for config reload")
		}
	}
}
