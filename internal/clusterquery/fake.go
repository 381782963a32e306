package clusterquery

import (
	"context"
	"sync"
)

// Fake is an in-memory ClusterQuery for tests. Every lookup is keyed by
// the same arguments the real platform client would use; absent keys
// return an empty result, not an error, mirroring the real client's
// "nothing deployed" response.
type Fake struct {
	mu sync.Mutex

	Apps         map[string][]AppRef                // nodeName -> apps
	Replicas     map[string][]Replica                // nodeName+appURI -> replicas
	CodePackages map[string][]CodePackage            // nodeName+appURI+manifest -> code packages
	Manifests    map[string]string                   // appTypeName+ver -> xml
	AppUpgrades  map[string]UpgradeProgress           // appURI -> progress
	ClusterUpgrade UpgradeProgress
}

// NewFake constructs an empty Fake.
func NewFake() *Fake {
	return &Fake{
		Apps:         make(map[string][]AppRef),
		Replicas:     make(map[string][]Replica),
		CodePackages: make(map[string][]CodePackage),
		Manifests:    make(map[string]string),
		AppUpgrades:  make(map[string]UpgradeProgress),
	}
}

func (f *Fake) ListDeployedApps(_ context.Context, nodeName string) ([]AppRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Apps[nodeName], nil
}

func (f *Fake) ListDeployedReplicas(_ context.Context, nodeName, appURI string) ([]Replica, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Replicas[nodeName+"|"+appURI], nil
}

func (f *Fake) ListDeployedCodePackages(_ context.Context, nodeName, appURI, serviceManifest string) ([]CodePackage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CodePackages[nodeName+"|"+appURI+"|"+serviceManifest], nil
}

func (f *Fake) GetApplicationManifest(_ context.Context, appTypeName, appTypeVersion string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Manifests[appTypeName+"|"+appTypeVersion], nil
}

func (f *Fake) GetApplicationUpgradeProgress(_ context.Context, appURI string) (UpgradeProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.AppUpgrades[appURI], nil
}

func (f *Fake) GetClusterUpgradeProgress(_ context.Context) (UpgradeProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ClusterUpgrade, nil
}

// SetApps is a convenience setter for tests.
func (f *Fake) SetApps(nodeName string, apps []AppRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Apps[nodeName] = apps
}

// SetReplicas is a convenience setter for tests.
func (f *Fake) SetReplicas(nodeName, appURI string, replicas []Replica) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Replicas[nodeName+"|"+appURI] = replicas
}

// SetCodePackages is a convenience setter for tests.
func (f *Fake) SetCodePackages(nodeName, appURI, serviceManifest string, pkgs []CodePackage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CodePackages[nodeName+"|"+appURI+"|"+serviceManifest] = pkgs
}

// SetManifest is a convenience setter for tests.
func (f *Fake) SetManifest(appTypeName, appTypeVersion, xml string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Manifests[appTypeName+"|"+appTypeVersion] = xml
}
