package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is an agent defined in a YAML file.
type Profile struct {
	Name              string `yaml:"name"`
	Description       string `yaml:"description"`
	Icon              string `yaml:"icon"`
	Color             string `yaml:"color"`
	SystemInstruction string `yaml:"system_instruction"`
}

// LoadProfile reads an agent profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}

	return &p, nil
}

// Agent converts the profile. Profile agents get an id derived from their
// name so restarts keep session references intact.
func (p *Profile) Agent(modTime time.Time) (Agent, error) {
	a := Agent{
		ID:                "profile-" + slug(p.Name),
		Name:              strings.TrimSpace(p.Name),
		Description:       strings.TrimSpace(p.Description),
		SystemInstruction: strings.TrimSpace(p.SystemInstruction),
		Icon:              p.Icon,
		Color:             p.Color,
		IsCustom:          true,
		CreatedAt:         modTime.UTC(),
	}
	return a, a.Validate()
}

// LoadProfiles reads every *.yaml and *.yml file in dir. A missing directory
// yields no agents.
func LoadProfiles(dir string) ([]Agent, error) {
	if dir == "" {
		return nil, nil
	}
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, m...)
	}
	sort.Strings(paths)

	var out []Agent
	for _, path := range paths {
		p, err := LoadProfile(path)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		a, err := p.Agent(info.ModTime())
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", path, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
