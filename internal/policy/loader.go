package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Workspace configuration file names, in lookup order.
var ConfigFiles = []string{"config.toml", "config.yaml", "config.yml"}

// Loader assembles a Model from a workspace configuration and the profiles
// it activates.
type Loader struct {
	ConfigDir   string // workspace configuration directory, e.g. .bashguard
	ProfilesDir string // profile root holding builtins/ and custom/
}

// Load reads the configuration and profiles and builds the model. Inline
// rules are defined before profile rules, builtin profiles before custom
// ones, each in the order listed.
func (l Loader) Load() (*Model, *Config, error) {
	cfg, path, err := LoadConfig(l.ConfigDir)
	if err != nil {
		return nil, nil, err
	}

	rules := make([]Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		r.Source = "config"
		rules = append(rules, r)
	}

	errs := &ConfigError{Source: path}
	for _, ref := range profileRefs(cfg.Profiles) {
		p, err := LoadProfile(l.ProfilesDir, ref.kind, ref.name)
		if err != nil {
			errs.add("%s profile %s: %v", ref.kind, ref.name, err)
			continue
		}
		for i, r := range p.Rules {
			if r.ID == "" {
				r.ID = fmt.Sprintf("%s#%d", ref.name, i+1)
			} else {
				r.ID = ref.name + "/" + r.ID
			}
			r.Source = "profile " + ref.name
			rules = append(rules, r)
		}
	}
	if err := errs.orNil(); err != nil {
		return nil, cfg, err
	}

	m, err := Load(rules, cfg.Settings)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.Source = path
		}
		return nil, cfg, err
	}
	return m, cfg, nil
}

// Paths returns the files and directories whose contents feed the model.
func (l Loader) Paths() []string {
	paths := []string{l.ConfigDir}
	if l.ProfilesDir != "" {
		paths = append(paths,
			filepath.Join(l.ProfilesDir, string(KindBuiltin)),
			filepath.Join(l.ProfilesDir, string(KindCustom)))
	}
	return paths
}

type profileRef struct {
	kind ProfileKind
	name string
}

func profileRefs(p Profiles) []profileRef {
	refs := make([]profileRef, 0, len(p.Builtins)+len(p.Custom))
	for _, name := range p.Builtins {
		refs = append(refs, profileRef{KindBuiltin, name})
	}
	for _, name := range p.Custom {
		refs = append(refs, profileRef{KindCustom, name})
	}
	return refs
}

// LoadConfig reads the workspace configuration from dir. A directory
// without a configuration file yields an empty configuration and an empty
// path.
func LoadConfig(dir string) (*Config, string, error) {
	for _, name := range ConfigFiles {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, path, err
		}
		cfg, err := decodeConfig(path, data)
		return cfg, path, err
	}
	return &Config{}, "", nil
}

// LoadFile reads a single configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeConfig(path, data)
}

func decodeConfig(path string, data []byte) (*Config, error) {
	var cfg Config
	if err := decodeFile(path, data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decodeFile decodes TOML or YAML by extension and rejects unknown keys.
func decodeFile(path string, data []byte, v any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(data), v)
		if err != nil {
			return &ConfigError{Source: path, Problems: []string{err.Error()}}
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			errs := &ConfigError{Source: path}
			for _, key := range undecoded {
				errs.add("unknown key %q", key.String())
			}
			return errs
		}
		return nil
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
			return &ConfigError{Source: path, Problems: []string{err.Error()}}
		}
		return nil
	}
	return &ConfigError{Source: path, Problems: []string{"unsupported file type"}}
}
