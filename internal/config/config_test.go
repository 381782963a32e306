package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
schema_version: "1"
node_id: node-a
observability:
  metrics_addr: "127.0.0.1:19091"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NodeID != "node-a" {
		t.Errorf("expected node_id override to apply, got %q", cfg.NodeID)
	}
	if cfg.Observability.MetricsAddr != "127.0.0.1:19091" {
		t.Errorf("expected metrics_addr override to apply, got %q", cfg.Observability.MetricsAddr)
	}
	// Fields not set in the file must retain their defaults.
	if cfg.Agent.ObserverTimeoutSeconds != 300 {
		t.Errorf("expected default observer_timeout_seconds to survive merge, got %d", cfg.Agent.ObserverTimeoutSeconds)
	}
	if cfg.Agent.ClusterQueryFixturePath != "/etc/nodewatch/cluster_topology.yaml" {
		t.Errorf("expected default cluster_query_fixture_path to survive merge, got %q", cfg.Agent.ClusterQueryFixturePath)
	}
}

func TestLoadRejectsUnreadableFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `
schema_version: "1"
node_id: node-a
agent:
  max_parallel_fraction: 2.0
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation to reject max_parallel_fraction outside (0.0, 1.0]")
	}
}

func TestValidateCollectsMultipleErrors(t *testing.T) {
	cfg := Defaults()
	cfg.SchemaVersion = "2"
	cfg.NodeID = ""
	cfg.AppObserver.Enabled = false
	cfg.SystemObserver.Enabled = false

	err := Validate(&cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	for _, want := range []string{"schema_version", "node_id", "at least one of"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected validation error to mention %q, got: %s", want, msg)
		}
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := Defaults()
	cfg.NodeID = "node-a"
	if err := Validate(&cfg); err != nil {
		t.Fatalf("expected defaults (with a node_id) to validate, got: %v", err)
	}
}

func TestValidateRequiresClusterQueryFixturePath(t *testing.T) {
	cfg := Defaults()
	cfg.NodeID = "node-a"
	cfg.Agent.ClusterQueryFixturePath = ""

	if err := Validate(&cfg); err == nil {
		t.Fatal("expected validation to reject an empty cluster_query_fixture_path")
	}
}
