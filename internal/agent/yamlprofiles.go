package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlProfile is the on-disk shape of one standalone profile file, the
// same fields as Config but tagged for YAML since large agent rosters are
// easier to keep as one file per agent than as entries in the main JSONC
// config. Grounded on haasonsaas-nexus's internal/multiagent/config.go,
// which loads its agent roster the same way: one YAML document per run,
// unmarshaled with gopkg.in/yaml.v3 and defaulted in code rather than via
// struct tags.
type yamlProfile struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Mode         Mode     `yaml:"mode"`
	Model        ModelRef `yaml:"model"`
	Temperature  float64  `yaml:"temperature"`
	TopP         float64  `yaml:"topP"`
	SystemPrompt string   `yaml:"systemPrompt"`
}

// LoadProfilesDir reads every *.yaml/*.yml file in dir as one agent
// profile and registers it, the file's base name (minus extension)
// supplying the profile name when the document omits one. A missing
// directory is not an error: standalone profile files are optional.
func (r *Registry) LoadProfilesDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("agent: read profiles dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("agent: read profile %s: %w", path, err)
		}

		var doc yamlProfile
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("agent: parse profile %s: %w", path, err)
		}

		name := doc.Name
		if name == "" {
			name = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}
		if doc.Mode == "" {
			doc.Mode = ModePrimary
		}

		r.Register(&Profile{
			Name:         name,
			Description:  doc.Description,
			Mode:         doc.Mode,
			Model:        doc.Model,
			Temperature:  doc.Temperature,
			TopP:         doc.TopP,
			SystemPrompt: doc.SystemPrompt,
		})
	}
	return nil
}
