package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"slices"

	"github.com/pixil98/go-errors"
)

const manifestFile = "plugin.json"

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Manifest describes one plugin directory. Main names the registered
// factory to instantiate and defaults to the id.
type Manifest struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Main         string   `json:"main"`
	Dependencies []string `json:"dependencies"`
}

func (m Manifest) Validate() error {
	el := errors.NewErrorList()

	if m.ID == "" {
		el.Add(fmt.Errorf("id must be set"))
	} else if !idPattern.MatchString(m.ID) {
		el.Add(fmt.Errorf("id %q must be alphanumeric", m.ID))
	}
	if m.Version == "" {
		el.Add(fmt.Errorf("version must be set"))
	}
	if slices.Contains(m.Dependencies, m.ID) {
		el.Add(fmt.Errorf("plugin %q depends on itself", m.ID))
	}

	return el.Err()
}

func (m Manifest) entry() string {
	if m.Main != "" {
		return m.Main
	}
	return m.ID
}

func readManifest(path string) (Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return m, nil
}
