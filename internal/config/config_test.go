package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"calimport/internal/model"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := cfg.Listen, defaultListen; got != want {
		t.Errorf("Listen=%q, want %q", got, want)
	}

	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if got, want := st.Mode().Perm(), os.FileMode(0o600); got != want {
		t.Errorf("mode=%v, want %v", got, want)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if again.Refresh != cfg.Refresh || again.Calendar != cfg.Calendar {
		t.Errorf("reloaded config differs: %+v vs %+v", again, cfg)
	}
}

func TestLoadNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
format: xcal
calendar: work
supersede: true
subscriptions:
  - url: https://example.com/team.ics
    format: ical
  - id: holidays
    url: https://example.com/holidays.json
    calendar: holidays
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if got, want := cfg.ChunkSize, 64*1024; got != want {
		t.Errorf("ChunkSize=%d, want %d", got, want)
	}
	if got, want := cfg.Subscriptions[0].ID, "sub-1"; got != want {
		t.Errorf("first ID=%q, want %q", got, want)
	}
	if got, want := cfg.Subscriptions[0].Calendar, "work"; got != want {
		t.Errorf("first calendar=%q, want %q", got, want)
	}
	if got, want := cfg.Subscriptions[1].Format, "xcal"; got != want {
		t.Errorf("second format=%q, want %q", got, want)
	}

	opts, err := cfg.ImportOptions("", "")
	if err != nil {
		t.Fatal(err)
	}
	want := model.ImportOptions{
		Format:     model.FormatXCal,
		Calendar:   "work",
		Supersede:  true,
		Errors:     model.ErrorsContinue,
		Validation: model.ValidateSkip,
	}
	if opts != want {
		t.Errorf("ImportOptions=%+v, want %+v", opts, want)
	}

	if opts, err := cfg.ImportOptions("json", "other"); err != nil || opts.Format != model.FormatJCal || opts.Calendar != "other" {
		t.Errorf("ImportOptions(json, other)=%+v, %v", opts, err)
	}
	if _, err := cfg.ImportOptions("vcard", ""); err == nil {
		t.Error("ImportOptions accepted an unknown format")
	}
}

func TestValidateRejects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Errors = "panic"
	cfg.Subscriptions = []SubscriptionConfig{{ID: "x", Format: "ical"}}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted a broken config")
	}
	for _, want := range []string{"panic", "url is empty"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("err=%v, want mention of %q", err, want)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "secret"}
	cfg.Subscriptions = append(cfg.Subscriptions, SubscriptionConfig{ID: "team", URL: "https://example.com/team.ics"})
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.BasicAuth == nil || got.BasicAuth.Username != "admin" {
		t.Errorf("basic auth lost: %+v", got.BasicAuth)
	}
	if len(got.Subscriptions) != 1 || got.Subscriptions[0].Format != "ical" {
		t.Errorf("subscriptions=%+v", got.Subscriptions)
	}

	if err := Save("", cfg); err == nil {
		t.Error("Save with empty path succeeded")
	}
	if err := Save(path, nil); err == nil {
		t.Error("Save with nil config succeeded")
	}
}
