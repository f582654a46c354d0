package subagents

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cexll/subagentsdk/pkg/logging"
	"gopkg.in/yaml.v3"
)

// FileFormatVersion is the only wrapper version understood by the YAML format.
const FileFormatVersion = "1"

// SearchPath is one directory scanned for definition files. Configs that do
// not declare a scope inherit Scope.
type SearchPath struct {
	Dir   string
	Scope Scope
}

// DefaultSearchPaths returns <projectRoot>/.claude/agents and, when home is
// set, <home>/.claude/agents.
func DefaultSearchPaths(projectRoot, home string) []SearchPath {
	paths := []SearchPath{{Dir: filepath.Join(projectRoot, ".claude", "agents"), Scope: ScopeProject}}
	if strings.TrimSpace(home) != "" {
		paths = append(paths, SearchPath{Dir: filepath.Join(home, ".claude", "agents"), Scope: ScopeUser})
	}
	return paths
}

// Source produces a fresh name-keyed set of configs. Loader implements it;
// Registry.Reload consumes it.
type Source interface {
	LoadAll() (map[string]*Config, error)
}

// Loader discovers definition files under its search paths.
type Loader struct {
	paths []SearchPath
}

// NewLoader builds a loader over the given search paths.
func NewLoader(paths ...SearchPath) *Loader {
	return &Loader{paths: append([]SearchPath(nil), paths...)}
}

// Paths returns the configured search paths.
func (l *Loader) Paths() []SearchPath {
	return append([]SearchPath(nil), l.paths...)
}

// LoadAll scans every search path and returns configs keyed by name. Any
// malformed or invalid file fails the whole call; the returned error joins the
// problems of every file so one run reports all of them.
func (l *Loader) LoadAll() (map[string]*Config, error) {
	var (
		configs []*Config
		errs    []error
	)
	for _, sp := range l.paths {
		found, dirErrs := loadDir(sp)
		configs = append(configs, found...)
		errs = append(errs, dirErrs...)
	}

	sort.SliceStable(configs, func(i, j int) bool {
		if configs[i].Name != configs[j].Name {
			return configs[i].Name < configs[j].Name
		}
		return configs[i].SourcePath < configs[j].SourcePath
	})

	out := make(map[string]*Config, len(configs))
	for _, cfg := range configs {
		if prev, ok := out[cfg.Name]; ok {
			errs = append(errs, &ValidationError{
				Path: cfg.SourcePath,
				Err:  fmt.Errorf("%w: %q already defined in %s", ErrDuplicateName, cfg.Name, prev.SourcePath),
			})
			continue
		}
		out[cfg.Name] = cfg
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		logging.With("subagents.loader").Warn().Err(err).Int("files_failed", len(errs)).Msg("subagent load failed")
		return nil, err
	}
	logging.With("subagents.loader").Debug().Int("count", len(out)).Msg("subagents loaded")
	return out, nil
}

func loadDir(sp SearchPath) ([]*Config, []error) {
	root := sp.Dir
	if strings.TrimSpace(root) == "" {
		return nil, nil
	}
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("subagents: stat %s: %w", root, err)}
	}
	if !info.IsDir() {
		return nil, []error{fmt.Errorf("subagents: path %s is not a directory", root)}
	}

	var (
		results []*Config
		errs    []error
	)
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			errs = append(errs, fmt.Errorf("subagents: walk %s: %w", path, walkErr))
			return nil
		}
		if d.IsDir() || !IsDefinitionFile(path) {
			return nil
		}
		cfg, err := LoadFile(path, sp.Scope)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		results = append(results, cfg)
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}
	return results, errs
}

// IsDefinitionFile reports whether path carries one of the recognised extensions.
func IsDefinitionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".md":
		return true
	}
	return false
}

// LoadFile parses and validates a single definition file. An empty scope in
// the file is replaced by defaultScope, or project when that is empty too.
func LoadFile(path string, defaultScope Scope) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("subagents: read %s: %w", path, err)
	}

	var cfg *Config
	if strings.EqualFold(filepath.Ext(path), ".md") {
		cfg, err = ParseMarkdown(data)
	} else {
		cfg, err = ParseYAML(data)
	}
	if err != nil {
		return nil, &ValidationError{Path: path, Err: err}
	}

	cfg.SourcePath = path
	if cfg.Scope == "" {
		cfg.Scope = defaultScope
	}
	if cfg.Scope == "" {
		cfg.Scope = ScopeProject
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

type yamlFile struct {
	Version  string  `yaml:"version"`
	Subagent *Config `yaml:"subagent"`
}

// ParseYAML decodes the {version, subagent} wrapper. It does not validate the
// subagent fields.
func ParseYAML(data []byte) (*Config, error) {
	var doc yamlFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode YAML: %w", err)
	}
	if v := strings.TrimSpace(doc.Version); v != "" && v != FileFormatVersion {
		return nil, fmt.Errorf("unsupported file version %q", doc.Version)
	}
	if doc.Subagent == nil {
		return nil, errors.New("missing subagent block")
	}
	return doc.Subagent, nil
}

// ParseMarkdown decodes the YAML front matter of a Markdown definition and
// keeps the remaining document as Instructions.
func ParseMarkdown(data []byte) (*Config, error) {
	meta, body, err := splitFrontMatter(data)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(meta, &cfg); err != nil {
		return nil, fmt.Errorf("decode YAML: %w", err)
	}
	cfg.Instructions = strings.TrimSpace(body)
	return &cfg, nil
}

func splitFrontMatter(data []byte) ([]byte, string, error) {
	text := strings.TrimPrefix(string(bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))), "\uFEFF")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return nil, "", errors.New("missing YAML frontmatter")
	}
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return nil, "", errors.New("missing closing frontmatter separator")
	}
	meta := strings.Join(lines[1:end], "\n")
	body := strings.Join(lines[end+1:], "\n")
	return []byte(meta), body, nil
}
