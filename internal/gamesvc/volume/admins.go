package volume

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const adminListFile = "server-adminlist.json"

func (m *Manager) adminListPath(name string) string {
	return filepath.Join(m.Path(name), configDir, adminListFile)
}

// Admins reads the server admin list of a game. A game without a list has
// no admins.
func (m *Manager) Admins(name string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readAdmins(name)
}

func (m *Manager) WriteAdmins(name string, admins []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeAdmins(name, admins)
}

// UpdateAdmins replaces the admin list of a game with the result of fn while
// holding the manager lock. An error from fn is returned as is and leaves
// the list untouched.
func (m *Manager) UpdateAdmins(name string, fn func(admins []string) ([]string, error)) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	admins, err := m.readAdmins(name)
	if err != nil {
		return nil, err
	}
	admins, err = fn(admins)
	if err != nil {
		return nil, err
	}
	if err := m.writeAdmins(name, admins); err != nil {
		return nil, err
	}
	return admins, nil
}

func (m *Manager) readAdmins(name string) ([]string, error) {
	raw, err := afero.ReadFile(m.fs, m.adminListPath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read admin list of %s: %w", name, err)
	}

	admins := []string{}
	if err := json.Unmarshal(raw, &admins); err != nil {
		return nil, fmt.Errorf("decode admin list of %s: %w", name, err)
	}
	return admins, nil
}

func (m *Manager) writeAdmins(name string, admins []string) error {
	if admins == nil {
		admins = []string{}
	}
	raw, err := json.MarshalIndent(admins, "", "  ")
	if err != nil {
		return fmt.Errorf("encode admin list of %s: %w", name, err)
	}

	if err := m.fs.MkdirAll(filepath.Join(m.Path(name), configDir), 0o755); err != nil {
		return fmt.Errorf("create config dir of %s: %w", name, err)
	}
	if err := afero.WriteFile(m.fs, m.adminListPath(name), raw, 0o644); err != nil {
		return fmt.Errorf("write admin list of %s: %w", name, err)
	}
	return nil
}
