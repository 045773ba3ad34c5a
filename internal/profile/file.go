// Package profile loads the operator profile snapshot from a YAML file.
package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/amishk599/hunter/internal/model"
)

// FileProvider reads the profile from a YAML file, reloading it when the
// file's modification time changes.
type FileProvider struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	cached  model.Profile
}

var _ model.ProfileProvider = (*FileProvider)(nil)

// NewFileProvider returns a provider for path. The file need not exist yet.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Profile returns the current snapshot, or model.ErrNoProfile when the file
// is missing or the path is unset.
func (p *FileProvider) Profile(_ context.Context) (model.Profile, error) {
	if p.path == "" {
		return model.Profile{}, model.ErrNoProfile
	}
	info, err := os.Stat(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return model.Profile{}, model.ErrNoProfile
	}
	if err != nil {
		return model.Profile{}, fmt.Errorf("stat profile: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.modTime.IsZero() && info.ModTime().Equal(p.modTime) {
		return p.cached, nil
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return model.Profile{}, fmt.Errorf("reading profile: %w", err)
	}
	var prof model.Profile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &prof); err != nil {
		return model.Profile{}, fmt.Errorf("parsing profile: %w", err)
	}
	p.cached = prof
	p.modTime = info.ModTime()
	return prof, nil
}
