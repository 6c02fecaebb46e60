package policy

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ProfileKind selects the profile subdirectory.
type ProfileKind string

const (
	KindBuiltin ProfileKind = "builtins"
	KindCustom  ProfileKind = "custom"
)

//go:embed profiles
var builtinFS embed.FS

const builtinRoot = "profiles"

// ProfileInfo is a summary of a profile for listing.
type ProfileInfo struct {
	Name        string
	Description string
	Kind        ProfileKind
	Path        string // empty for profiles only available embedded
	RuleCount   int
	Err         error
}

var profileExts = []string{".toml", ".yaml", ".yml"}

func isProfileFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range profileExts {
		if ext == e {
			return true
		}
	}
	return false
}

func validProfileName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return fmt.Errorf("invalid profile name %q", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid profile name %q", name)
		}
	}
	return nil
}

// LoadProfile reads profile name of the given kind from profilesDir.
// Builtin profiles that are not installed are read from the copies
// embedded in the binary.
func LoadProfile(profilesDir string, kind ProfileKind, name string) (*Profile, error) {
	if err := validProfileName(name); err != nil {
		return nil, err
	}
	if profilesDir != "" {
		base := filepath.Join(profilesDir, string(kind), filepath.FromSlash(name))
		for _, ext := range profileExts {
			p := base + ext
			data, err := os.ReadFile(p)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return decodeProfile(p, data)
		}
	}
	if kind == KindBuiltin {
		p := path.Join(builtinRoot, name+".toml")
		if data, err := builtinFS.ReadFile(p); err == nil {
			return decodeProfile(p, data)
		}
	}
	return nil, fmt.Errorf("not found")
}

func decodeProfile(p string, data []byte) (*Profile, error) {
	var profile Profile
	if err := decodeFile(p, data, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ListProfiles returns every installed profile plus the embedded builtins,
// sorted by kind and name.
func ListProfiles(profilesDir string) ([]ProfileInfo, error) {
	seen := make(map[string]bool)
	var infos []ProfileInfo

	for _, kind := range []ProfileKind{KindBuiltin, KindCustom} {
		root := filepath.Join(profilesDir, string(kind))
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() || !isProfileFile(d.Name()) {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			name := strings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel))
			seen[string(kind)+":"+name] = true

			info := ProfileInfo{Name: name, Kind: kind, Path: p}
			data, err := os.ReadFile(p)
			if err == nil {
				var profile *Profile
				if profile, err = decodeProfile(p, data); err == nil {
					info.Description = profile.Meta.Description
					info.RuleCount = len(profile.Rules)
				}
			}
			info.Err = err
			infos = append(infos, info)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	builtins, err := builtinInfos()
	if err != nil {
		return nil, err
	}
	for _, info := range builtins {
		if !seen[string(KindBuiltin)+":"+info.Name] {
			infos = append(infos, info)
		}
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Kind != infos[j].Kind {
			return infos[i].Kind < infos[j].Kind
		}
		return infos[i].Name < infos[j].Name
	})
	return infos, nil
}

func builtinInfos() ([]ProfileInfo, error) {
	var infos []ProfileInfo
	err := fs.WalkDir(builtinFS, builtinRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := builtinFS.ReadFile(p)
		if err != nil {
			return err
		}
		profile, err := decodeProfile(p, data)
		if err != nil {
			return fmt.Errorf("embedded profile %s: %w", p, err)
		}
		name := strings.TrimSuffix(strings.TrimPrefix(p, builtinRoot+"/"), path.Ext(p))
		infos = append(infos, ProfileInfo{
			Name:        name,
			Description: profile.Meta.Description,
			Kind:        KindBuiltin,
			RuleCount:   len(profile.Rules),
		})
		return nil
	})
	return infos, err
}

// InstallBuiltins writes the embedded builtin profiles below
// profilesDir/builtins and returns the installed profile names.
func InstallBuiltins(profilesDir string) ([]string, error) {
	var installed []string
	err := fs.WalkDir(builtinFS, builtinRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel := strings.TrimPrefix(p, builtinRoot+"/")
		dest := filepath.Join(profilesDir, string(KindBuiltin), filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
		}
		data, err := builtinFS.ReadFile(p)
		if err != nil {
			return err
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", dest, err)
		}
		installed = append(installed, strings.TrimSuffix(rel, path.Ext(rel)))
		return nil
	})
	return installed, err
}
