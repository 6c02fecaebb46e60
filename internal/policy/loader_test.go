package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const tomlConfig = `
[settings]
default_action = "ask"

[profiles]
builtins = ["git/read-only"]
custom = ["team"]

[[rules]]
id = "no-curl"
program = "curl"
action = "deny"
message = "network access is disabled"

[[rules]]
program = ["ls", "cat"]
action = "allow"
`

func TestLoader_TOML(t *testing.T) {
	root := t.TempDir()
	configDir := filepath.Join(root, ".bashguard")
	profilesDir := filepath.Join(root, "profiles")
	writeFile(t, filepath.Join(configDir, "config.toml"), tomlConfig)
	writeFile(t, filepath.Join(profilesDir, "custom", "team.toml"), `
[profile]
name = "team"

[[rules]]
id = "make"
program = "make"
action = "allow"

[[rules]]
program = "npm"
subcommands = ["publish"]
action = "deny"
`)

	m, cfg, err := Loader{ConfigDir: configDir, ProfilesDir: profilesDir}.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"git/read-only"}, cfg.Profiles.Builtins)

	byID := map[string]*CompiledRule{}
	for _, r := range m.Rules() {
		byID[r.ID] = r
	}
	require.Contains(t, byID, "no-curl")
	assert.Equal(t, "config", byID["no-curl"].Source)
	assert.Contains(t, byID, "rule-2")
	assert.Contains(t, byID, "team/make")
	assert.Contains(t, byID, "team#2")
	assert.Contains(t, byID, "git/read-only/inspect")
	assert.Equal(t, "profile git/read-only", byID["git/read-only/inspect"].Source)
}

func TestLoader_YAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), `
settings:
  default_action: deny
rules:
  - id: rm
    program: rm
    flags_present: ["-r"]
    action: deny
  - program: [ls, pwd]
    action: allow
`)
	m, _, err := Loader{ConfigDir: dir}.Load()
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, m.DefaultAction())
	assert.Len(t, m.Rules(), 2)
}

func TestLoader_MissingConfigIsEmpty(t *testing.T) {
	m, cfg, err := Loader{ConfigDir: t.TempDir()}.Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Rules)
	assert.Equal(t, DecisionAsk, m.DefaultAction())
}

func TestLoader_UnknownKeys(t *testing.T) {
	tests := []struct {
		name, file, content string
	}{
		{"toml", "config.toml", "[[rules]]\nprogram = \"ls\"\naction = \"allow\"\nprogramm = \"x\"\n"},
		{"yaml", "config.yaml", "rules:\n  - program: ls\n    action: allow\n    programm: x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, tt.file), tt.content)
			_, _, err := Loader{ConfigDir: dir}.Load()
			var ce *ConfigError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Contains(t, ce.Error(), "programm")
		})
	}
}

func TestLoader_InvalidRuleNamesFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.toml"), "[[rules]]\naction = \"allow\"\n")
	_, _, err := Loader{ConfigDir: dir}.Load()
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, filepath.Join(dir, "config.toml"), ce.Source)
	assert.Contains(t, ce.Error(), "rule has no matcher fields")
}

func TestLoader_MissingProfile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.toml"), "[profiles]\ncustom = [\"nope\"]\n")
	_, _, err := Loader{ConfigDir: dir, ProfilesDir: t.TempDir()}.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom profile nope: not found")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.toml")
	writeFile(t, path, tomlConfig)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Rules, 2)
	assert.Equal(t, StringOrList{"ls", "cat"}, cfg.Rules[1].Program)
	assert.Equal(t, StringOrList{"curl"}, cfg.Rules[0].Program)
}

func TestBuiltinProfilesAreValid(t *testing.T) {
	infos, err := ListProfiles(t.TempDir())
	require.NoError(t, err)
	require.NotEmpty(t, infos)

	var names []string
	var rules []Rule
	for _, info := range infos {
		assert.Equal(t, KindBuiltin, info.Kind)
		assert.Empty(t, info.Path)
		assert.NotEmpty(t, info.Description, info.Name)
		names = append(names, info.Name)

		p, err := LoadProfile("", KindBuiltin, info.Name)
		require.NoError(t, err, info.Name)
		for i, r := range p.Rules {
			if r.ID == "" {
				r.ID = fmt.Sprintf("%s#%d", info.Name, i+1)
			} else {
				r.ID = info.Name + "/" + r.ID
			}
			rules = append(rules, r)
		}
	}
	assert.Contains(t, names, "general/safe-basics")
	assert.Contains(t, names, "general/dangerous")
	assert.Contains(t, names, "git/read-only")

	_, err = Load(rules, Settings{})
	require.NoError(t, err)
}

func TestInstallBuiltins(t *testing.T) {
	dir := t.TempDir()
	installed, err := InstallBuiltins(dir)
	require.NoError(t, err)
	assert.Contains(t, installed, "git/read-only")

	_, err = os.Stat(filepath.Join(dir, "builtins", "git", "read-only.toml"))
	require.NoError(t, err)

	writeFile(t, filepath.Join(dir, "custom", "mine.yaml"), "profile:\n  description: mine\nrules:\n  - program: make\n    action: allow\n")
	infos, err := ListProfiles(dir)
	require.NoError(t, err)

	var custom []ProfileInfo
	for _, info := range infos {
		if info.Kind == KindCustom {
			custom = append(custom, info)
		} else {
			assert.NotEmpty(t, info.Path, info.Name)
		}
	}
	require.Len(t, custom, 1)
	assert.Equal(t, "mine", custom[0].Name)
	assert.Equal(t, 1, custom[0].RuleCount)
	assert.NoError(t, custom[0].Err)
}

func TestLoadProfile_RejectsTraversal(t *testing.T) {
	for _, name := range []string{"", "../etc/passwd", "/abs", "a//b", `a\b`} {
		_, err := LoadProfile(t.TempDir(), KindCustom, name)
		assert.Error(t, err, name)
	}
}
