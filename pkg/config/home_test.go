package config

import (
	"path/filepath"
	"testing"
)

func TestGetHome_EnvVar(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(envHome, dir)
	ResetHome()
	t.Cleanup(ResetHome)

	if got := GetHome(); got != dir {
		t.Errorf("expected home %s, got %s", dir, got)
	}
}

func TestGetHome_Cached(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(envHome, dir)
	ResetHome()
	t.Cleanup(ResetHome)

	first := GetHome()

	// A later env change must not move the cached home.
	t.Setenv(envHome, t.TempDir())
	if got := GetHome(); got != first {
		t.Errorf("expected cached home %s, got %s", first, got)
	}
}

func TestLogPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(envHome, dir)
	ResetHome()
	t.Cleanup(ResetHome)

	want := filepath.Join(dir, "appwright.log")
	if got := LogPath(); got != want {
		t.Errorf("expected log path %s, got %s", want, got)
	}
}
