package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"

	"github.com/local/pagedesk/internal/config"
)

func TestInitWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "app.log")
	if err := Init(Options{Level: "warn", File: file, Console: &buf}); err != nil {
		t.Fatal(err)
	}
	defer Close()

	log.Info().Msg("hidden")
	log.Warn().Str("doc", "d1").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line above warn level, got %q", buf.String())
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatal(err)
	}
	if ev["service"] != Service || ev["doc"] != "d1" || ev["message"] != "shown" {
		t.Fatalf("unexpected event %v", ev)
	}
}

func TestForwardableDropsDebug(t *testing.T) {
	if forwardable([]byte(`{"level":"debug","message":"x"}`)) != nil {
		t.Fatalf("debug lines must not be forwarded")
	}
	ev := forwardable([]byte(`{"level":"info","message":"x"}`))
	if ev == nil || ev["service"] != Service {
		t.Fatalf("info line not forwarded: %v", ev)
	}
	raw := forwardable([]byte("not json"))
	if raw == nil || raw["message"] != "not json" {
		t.Fatalf("raw line should be wrapped: %v", raw)
	}
}

func TestOptionsFrom(t *testing.T) {
	o := OptionsFrom(config.LoggingConfig{Level: "debug"}, config.AxiomConfig{Send: true})
	if o.SendToAxiom {
		t.Fatalf("axiom requires an api key")
	}
	o = OptionsFrom(config.LoggingConfig{}, config.AxiomConfig{Send: true, APIKey: "k", Dataset: "dev_pagedesk"})
	if !o.SendToAxiom || o.AxiomDataset != "dev_pagedesk" {
		t.Fatalf("unexpected options %+v", o)
	}
}
