package harness

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/GeneralBots/bottest/internal/model"
)

// fileConfig is the on-disk configuration schema. A file names a preset
// as its base and overrides individual switches; pointer fields
// distinguish "absent" from "explicitly false".
type fileConfig struct {
	// Preset is the base configuration name. Defaults to "default".
	Preset string `json:"preset" yaml:"preset"`

	Postgres      *bool `json:"postgres" yaml:"postgres"`
	Minio         *bool `json:"minio" yaml:"minio"`
	Redis         *bool `json:"redis" yaml:"redis"`
	RunMigrations *bool `json:"runMigrations" yaml:"runMigrations"`
}

// LoadConfig reads an environment configuration from path. The format
// follows the extension: .json and .jsonc are parsed as JSONC (comments
// and trailing commas allowed), .yaml and .yml as YAML.
func LoadConfig(path string) (model.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(raw), &fc); err != nil {
			return model.Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return model.Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return model.Config{}, fmt.Errorf("unsupported config format %q (use .json, .jsonc, .yaml, or .yml)", ext)
	}

	return fc.resolve()
}

// resolve materializes the preset base and applies overrides.
func (fc fileConfig) resolve() (model.Config, error) {
	preset := fc.Preset
	if preset == "" {
		preset = "default"
	}
	cfg, err := model.PresetConfig(preset)
	if err != nil {
		return model.Config{}, err
	}

	if fc.Postgres != nil {
		cfg.Postgres = *fc.Postgres
	}
	if fc.Minio != nil {
		cfg.Minio = *fc.Minio
	}
	if fc.Redis != nil {
		cfg.Redis = *fc.Redis
	}
	if fc.RunMigrations != nil {
		cfg.RunMigrations = *fc.RunMigrations
	}
	return cfg, nil
}
