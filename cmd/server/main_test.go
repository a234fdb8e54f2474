package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/veilstage/pulsegrid/internal/bridge"
	"github.com/veilstage/pulsegrid/internal/config"
)

func TestPrintBanner(t *testing.T) {
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	cfg := &config.Config{Env: "test", Port: "4000", DatabaseURL: "test.db"}
	printBanner(cfg)

	_ = w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	output := buf.String()

	if !strings.Contains(output, "pulsegrid") {
		t.Error("expected 'pulsegrid' in banner")
	}
	if !strings.Contains(output, "Environment: test") {
		t.Error("expected 'Environment: test' in banner")
	}
	if !strings.Contains(output, "Port:        4000") {
		t.Error("expected 'Port:        4000' in banner")
	}
	if !strings.Contains(output, "Database:    test.db") {
		t.Error("expected 'Database:    test.db' in banner")
	}
}

func TestVersionVariables(t *testing.T) {
	if Version == "" {
		t.Error("Version should have a default value")
	}
	if BuildTime == "" {
		t.Error("BuildTime should have a default value")
	}
	if GitCommit == "" {
		t.Error("GitCommit should have a default value")
	}
}

func TestDefaultFixtures(t *testing.T) {
	fixtures := defaultFixtures()
	if len(fixtures) != 4 {
		t.Fatalf("len(defaultFixtures()) = %d, want 4", len(fixtures))
	}
	var sawKickResponsive bool
	for _, f := range fixtures {
		if f.RespondsToKicks {
			sawKickResponsive = true
			if f.Band != "Bass" {
				t.Errorf("kick-responsive fixture %q band = %q, want Bass", f.Name, f.Band)
			}
		}
	}
	if !sawKickResponsive {
		t.Error("expected at least one kick-responsive fixture")
	}
}

func TestEncodeParseKickFlashConfig_RoundTrips(t *testing.T) {
	cfg := bridge.FlashConfig{Enabled: true, Intensity: 0.75, Mode: bridge.ModeAlternate, Scenes: []string{"a", "b"}}
	encoded := encodeKickFlashConfig(cfg)

	got, ok := parseKickFlashConfig(encoded)
	if !ok {
		t.Fatalf("parseKickFlashConfig(%q) failed to parse", encoded)
	}
	if got.Enabled != cfg.Enabled || got.Intensity != cfg.Intensity || got.Mode != cfg.Mode {
		t.Errorf("round-tripped config = %+v, want %+v", got, cfg)
	}
	if len(got.Scenes) != 2 || got.Scenes[0] != "a" || got.Scenes[1] != "b" {
		t.Errorf("round-tripped scenes = %v, want [a b]", got.Scenes)
	}
}

func TestParseKickFlashConfig_EmptyScenes(t *testing.T) {
	got, ok := parseKickFlashConfig("true|0.5|single|")
	if !ok {
		t.Fatal("expected a successful parse")
	}
	if len(got.Scenes) != 0 {
		t.Errorf("Scenes = %v, want empty", got.Scenes)
	}
}

func TestParseKickFlashConfig_Malformed(t *testing.T) {
	cases := []string{"", "true|not-a-number|single|a", "not-a-bool|0.5|single|a", "true|0.5"}
	for _, raw := range cases {
		if _, ok := parseKickFlashConfig(raw); ok {
			t.Errorf("parseKickFlashConfig(%q) succeeded, want failure", raw)
		}
	}
}
