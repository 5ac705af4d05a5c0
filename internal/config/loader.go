package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"lexgraph/internal/core"
	"lexgraph/internal/errors"
	"lexgraph/pkg/domain"
)

const (
	// FileName is the configuration file looked up in the working directory.
	FileName = "lexgraph.yaml"
	// EnvPrefix prefixes environment overrides. A double underscore
	// separates nesting levels: LEXGRAPH_STORAGE__DRIVER sets storage.driver.
	EnvPrefix = "LEXGRAPH_"
)

// Defaults returns the built-in settings.
func Defaults() map[string]any {
	return map[string]any{
		"project":               "lexgraph",
		"path":                  ".",
		"storage.driver":        string(core.StorageSnapshot),
		"storage.compress":      false,
		"storage.blob.driver":   "fs",
		"persist.mode":          string(core.PersistImmediate),
		"persist.idle_interval": core.DefaultIdleInterval.String(),
		"max_undo":              100,
		"log.json":              false,
		"log.level":             "info",
	}
}

// flagKeys maps flag names that differ from their configuration keys.
var flagKeys = map[string]string{
	"driver":    "storage.driver",
	"dsn":       "storage.dsn",
	"compress":  "storage.compress",
	"blob":      "storage.blob.driver",
	"blob-root": "storage.blob.root",
	"bucket":    "storage.blob.bucket",
	"node":      "node_id",
	"persist":   "persist.mode",
	"log-json":  "log.json",
	"log-level": "log.level",
	"max-undo":  "max_undo",
}

// Load layers defaults, the configuration file, environment variables and
// explicitly set flags, then validates the result. An empty path looks for
// lexgraph.yaml in the working directory and skips it when absent; an
// explicit path must exist.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, errors.Wrap(err, "load defaults")
	}

	explicit := path != ""
	if !explicit {
		path = FileName
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "read config file %s", path), domain.ErrConfiguration)
		}
	} else if explicit {
		return nil, errors.Mark(errors.Wrapf(err, "config file %s", path), domain.ErrConfiguration)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.Wrap(err, "load environment")
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, errors.Wrap(err, "load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode config"), domain.ErrConfiguration)
	}
	cfg.Path = filepath.Clean(cfg.Path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns LEXGRAPH_STORAGE__BLOB__ROOT into storage.blob.root.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}
