package clusterquery

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// staticFixture is the on-disk shape of a Static topology fixture, loaded
// once at startup. It exists for local/manual runs where no real platform
// client is available (spec.md §1 — the platform query client itself is
// out of scope).
type staticFixture struct {
	Apps         map[string][]AppRef             `yaml:"apps"`
	Replicas     map[string][]Replica            `yaml:"replicas"`
	CodePackages map[string][]CodePackage        `yaml:"codePackages"`
	Manifests    map[string]string               `yaml:"manifests"`
}

// Static is a fixed, read-only ClusterQuery backed by a YAML fixture file.
// It never calls out to a real cluster; every method looks up the fixture
// loaded at construction time.
type Static struct {
	fixture staticFixture
}

// LoadStatic reads and parses a YAML fixture file into a Static
// ClusterQuery.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("clusterquery.LoadStatic: read %q: %w", path, err)
	}
	var fx staticFixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("clusterquery.LoadStatic: parse %q: %w", path, err)
	}
	return &Static{fixture: fx}, nil
}

func (s *Static) ListDeployedApps(_ context.Context, nodeName string) ([]AppRef, error) {
	return s.fixture.Apps[nodeName], nil
}

func (s *Static) ListDeployedReplicas(_ context.Context, nodeName, appURI string) ([]Replica, error) {
	return s.fixture.Replicas[nodeName+"|"+appURI], nil
}

func (s *Static) ListDeployedCodePackages(_ context.Context, nodeName, appURI, serviceManifest string) ([]CodePackage, error) {
	return s.fixture.CodePackages[nodeName+"|"+appURI+"|"+serviceManifest], nil
}

func (s *Static) GetApplicationManifest(_ context.Context, appTypeName, appTypeVersion string) (string, error) {
	xml, ok := s.fixture.Manifests[appTypeName+"|"+appTypeVersion]
	if !ok {
		return "", fmt.Errorf("clusterquery.Static: no manifest fixture for %s %s", appTypeName, appTypeVersion)
	}
	return xml, nil
}

func (s *Static) GetApplicationUpgradeProgress(_ context.Context, appURI string) (UpgradeProgress, error) {
	return UpgradeProgress{}, nil
}

func (s *Static) GetClusterUpgradeProgress(_ context.Context) (UpgradeProgress, error) {
	return UpgradeProgress{}, nil
}
