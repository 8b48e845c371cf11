// Package tunnelstate persists the single PersistedTunnel record the
// launcher keeps across restarts: the (name, id, cluster) triple identifying
// the tunnel registered with the remote management API.
package tunnelstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// PersistedTunnel is the durable, on-disk identity of the launcher's tunnel.
// Name is always stored lowercase.
type PersistedTunnel struct {
	Name    string `json:"name"`
	ID      string `json:"id"`
	Cluster string `json:"cluster"`
}

// Locator identifies a tunnel on the remote service by (cluster, id).
type Locator struct {
	Cluster string
	ID      string
}

// Locator derives the remote locator for this persisted identity.
func (p *PersistedTunnel) Locator() Locator {
	return Locator{Cluster: p.Cluster, ID: p.ID}
}

// Store is a typed wrapper over a single JSON file at path.
type Store struct {
	path string
}

// NewStore returns a Store backed by the file at path. The file need not
// exist yet.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the persisted tunnel, or nil if the file is missing or
// unparsable -- both are treated as "no tunnel", matching spec.md §4.4.
func (s *Store) Load() (*PersistedTunnel, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	var pt PersistedTunnel
	if err := json.Unmarshal(data, &pt); err != nil {
		return nil, nil
	}
	return &pt, nil
}

// Save atomically replaces the persisted file with tunnel's contents, or
// removes the file entirely when tunnel is nil.
func (s *Store) Save(tunnel *PersistedTunnel) error {
	if tunnel == nil {
		err := os.Remove(s.path)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	data, err := json.MarshalIndent(tunnel, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tunnelstate-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}
