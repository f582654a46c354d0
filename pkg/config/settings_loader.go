package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cexll/subagentsdk/pkg/logging"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. SUBAGENTS_ROUTER_MAX_FANOUT.
const EnvPrefix = "SUBAGENTS"

// SettingsLoader composes settings from layered YAML files.
// Order (low -> high): defaults < project < local < explicit file < environment.
type SettingsLoader struct {
	ProjectRoot string
	// ConfigFile, when set, must exist and is merged above the project layers.
	ConfigFile string
	// Viper lets callers share an instance with cobra flag bindings.
	Viper *viper.Viper
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("include_user", true)
	v.SetDefault("router.confidence_threshold", 0.5)
	v.SetDefault("router.max_fanout", 3)
	v.SetDefault("router.parallel", true)
	v.SetDefault("router.disable_default_rules", false)
	v.SetDefault("delegation.enabled", true)
	v.SetDefault("delegation.concurrency", 4)
	v.SetDefault("delegation.default_timeout", 5*time.Minute)
	v.SetDefault("watch.enabled", false)
	v.SetDefault("watch.debounce", 150*time.Millisecond)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("telemetry.service_name", "subagents")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("model.provider", "echo")
	v.SetDefault("model.max_tokens", 4096)
	v.SetDefault("model.max_retries", 2)
}

// Load resolves, merges and validates settings.
func (l *SettingsLoader) Load() (*Settings, error) {
	v := l.Viper
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	root := strings.TrimSpace(l.ProjectRoot)
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	v.SetDefault("project_root", abs)

	layers := []struct {
		name     string
		path     string
		required bool
	}{
		{name: "project", path: getProjectSettingsPath(abs)},
		{name: "local", path: getLocalSettingsPath(abs)},
		{name: "explicit", path: l.ConfigFile, required: true},
	}
	for _, layer := range layers {
		if err := applySettingsLayer(v, layer.name, layer.path, layer.required); err != nil {
			return nil, err
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper decodes and validates an already populated viper instance.
func LoadFromViper(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := ValidateSettings(&s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, nil
}

// getProjectSettingsPath returns the tracked project settings path.
func getProjectSettingsPath(root string) string {
	if strings.TrimSpace(root) == "" {
		return ""
	}
	return filepath.Join(root, ".claude", "subagents.yaml")
}

// getLocalSettingsPath returns the untracked project-local settings path.
func getLocalSettingsPath(root string) string {
	if strings.TrimSpace(root) == "" {
		return ""
	}
	return filepath.Join(root, ".claude", "subagents.local.yaml")
}

func applySettingsLayer(v *viper.Viper, name, path string, required bool) error {
	log := logging.With("config")
	if strings.TrimSpace(path) == "" {
		log.Debug().Str("layer", name).Msg("settings layer skipped (no path)")
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			log.Debug().Str("layer", name).Str("path", path).Msg("settings layer not found")
			return nil
		}
		return fmt.Errorf("load %s settings: %w", name, err)
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("load %s settings: %w", name, err)
	}
	log.Debug().Str("layer", name).Str("path", path).Msg("applied settings layer")
	return nil
}
