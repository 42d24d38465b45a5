// Package paths provides centralized path construction for the netshape data directory.
package paths

import (
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Paths provides typed path construction for the netshape data directory.
type Paths struct {
	dataDir string
}

// New creates a new Paths instance for the given data directory.
func New(dataDir string) *Paths {
	return &Paths{dataDir: dataDir}
}

// PresetsFile returns the default location of the site preset file.
func (p *Paths) PresetsFile() string {
	return filepath.Join(p.dataDir, "presets.yaml")
}

// InterfacesDir returns the directory holding per-interface state.
func (p *Paths) InterfacesDir() string {
	return filepath.Join(p.dataDir, "interfaces")
}

// InterfaceDir returns the directory for one interface. Interface names come
// from callers, so the join is scoped to InterfacesDir.
func (p *Paths) InterfaceDir(iface string) (string, error) {
	return securejoin.SecureJoin(p.InterfacesDir(), iface)
}

// InterfaceLog returns the path to the shaping history log of an interface.
func (p *Paths) InterfaceLog(iface string) (string, error) {
	dir, err := p.InterfaceDir(iface)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "shaping.log"), nil
}
