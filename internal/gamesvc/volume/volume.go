package volume

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

var (
	ErrExists   = errors.New("volume: already exists")
	ErrNotExist = errors.New("volume: does not exist")
)

const (
	configDir = "config"
	savesDir  = "saves"
)

// Manager owns the per game data directories under a single root.
type Manager struct {
	fs   afero.Fs
	root string

	mu sync.Mutex // serializes create and rename within the process
}

func NewManager(fs afero.Fs, root string) *Manager {
	return &Manager{fs: fs, root: root}
}

// NewOsManager is the production manager backed by the host filesystem.
func NewOsManager(root string) *Manager {
	return NewManager(afero.NewOsFs(), root)
}

func (m *Manager) Root() string {
	return m.root
}

func (m *Manager) Path(name string) string {
	return filepath.Join(m.root, name)
}

// Create makes the volume directory. The directory itself is created with a
// single mkdir so that two callers racing on one name cannot both succeed.
func (m *Manager) Create(name string) (string, error) {
	if err := m.fs.MkdirAll(m.root, 0o755); err != nil {
		return "", fmt.Errorf("create volume root %s: %w", m.root, err)
	}

	path := m.Path(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fs.Mkdir(path, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrExists, path)
		}
		return "", fmt.Errorf("create volume %s: %w", path, err)
	}
	return path, nil
}

func (m *Manager) Exists(name string) (bool, error) {
	return afero.DirExists(m.fs, m.Path(name))
}

// Remove deletes the volume recursively. A missing volume is not an error.
func (m *Manager) Remove(name string) error {
	if err := m.fs.RemoveAll(m.Path(name)); err != nil {
		return fmt.Errorf("remove volume %s: %w", m.Path(name), err)
	}
	return nil
}

// Rename moves a volume to a new name. The existence check and the rename
// are two calls, only callers in this process are serialized.
func (m *Manager) Rename(oldName, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ok, err := m.Exists(newName)
	if err != nil {
		return fmt.Errorf("stat volume %s: %w", newName, err)
	}
	if ok {
		return fmt.Errorf("%w: %s", ErrExists, m.Path(newName))
	}

	ok, err = m.Exists(oldName)
	if err != nil {
		return fmt.Errorf("stat volume %s: %w", oldName, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotExist, m.Path(oldName))
	}

	if err := m.fs.Rename(m.Path(oldName), m.Path(newName)); err != nil {
		return fmt.Errorf("rename volume %s to %s: %w", oldName, newName, err)
	}
	return nil
}

// ResetSaves throws away any save the server generated on first boot.
func (m *Manager) ResetSaves(name string) error {
	saves := filepath.Join(m.Path(name), savesDir)
	if err := m.fs.RemoveAll(saves); err != nil {
		return fmt.Errorf("clear saves of %s: %w", name, err)
	}
	if err := m.fs.MkdirAll(saves, 0o755); err != nil {
		return fmt.Errorf("recreate saves of %s: %w", name, err)
	}
	return nil
}
