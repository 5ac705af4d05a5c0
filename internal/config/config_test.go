package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexgraph/internal/blob"
	"lexgraph/internal/core"
	"lexgraph/internal/errors"
	"lexgraph/pkg/domain"
)

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("driver", "", "")
	fs.String("dsn", "", "")
	fs.String("node", "", "")
	fs.String("persist", "", "")
	fs.Int("max-undo", 0, "")
	fs.String("log-level", "", "")
	return fs
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "lexgraph", cfg.Project)
	assert.Equal(t, ".", cfg.Path)
	assert.Equal(t, "snapshot", cfg.Storage.Driver)
	assert.Equal(t, "immediate", cfg.Persist.Mode)
	assert.Equal(t, 2*time.Second, cfg.Persist.IdleInterval)
	assert.Equal(t, 100, cfg.MaxUndo)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yamlDoc := `project: dictionary
path: data
storage:
  driver: journal
  compress: true
persist:
  mode: idle
  idle_interval: 500ms
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(yamlDoc), 0o600))
	t.Setenv("LEXGRAPH_STORAGE__DRIVER", "sqlite")
	t.Setenv("LEXGRAPH_MAX_UNDO", "7")
	t.Setenv("LEXGRAPH_LOG__LEVEL", "warn")

	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--driver=memory", "--node=replica-1"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "dictionary", cfg.Project, "file overrides defaults")
	assert.Equal(t, "data", cfg.Path)
	assert.True(t, cfg.Storage.Compress)
	assert.Equal(t, "idle", cfg.Persist.Mode)
	assert.Equal(t, 500*time.Millisecond, cfg.Persist.IdleInterval)
	assert.Equal(t, "warn", cfg.Log.Level, "env overrides file")
	assert.Equal(t, 7, cfg.MaxUndo)
	assert.Equal(t, "memory", cfg.Storage.Driver, "flags override env")
	assert.Equal(t, "replica-1", cfg.NodeID)
}

func TestLoadExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("project: custom\nscope: [LexSense]\n"), 0o600))
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "custom", cfg.Project)
	assert.Equal(t, []string{"LexSense"}, cfg.Scope)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.True(t, errors.Is(err, domain.ErrConfiguration), "got %v", err)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver":  {"LEXGRAPH_STORAGE__DRIVER": "mongo"},
		"postgres no dsn": {"LEXGRAPH_STORAGE__DRIVER": "postgres"},
		"s3 no bucket":    {"LEXGRAPH_STORAGE__BLOB__DRIVER": "s3"},
		"persist mode":    {"LEXGRAPH_PERSIST__MODE": "eventually"},
		"log level":       {"LEXGRAPH_LOG__LEVEL": "loud"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load("", nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrConfiguration), "got %v", err)
			assert.True(t, domain.IsUsage(err), "configuration errors are usage errors")
		})
	}
}

func TestDescriptorAndSessionOptions(t *testing.T) {
	cfg := &Config{
		Project: "demo",
		Path:    "/srv/lex",
		NodeID:  "n1",
		Storage: StorageConfig{
			Driver:   "snapshot",
			Compress: true,
			Blob:     BlobConfig{Driver: "s3", Bucket: "lex", Region: "eu-west-1", PathStyle: true},
		},
		Persist: PersistConfig{Mode: "idle", IdleInterval: time.Second},
		MaxUndo: 5,
	}
	require.NoError(t, cfg.Validate())
	desc, err := cfg.Descriptor()
	require.NoError(t, err)
	assert.Equal(t, core.StorageSnapshot, desc.Driver)
	assert.Equal(t, core.Project{Name: "demo", Path: "/srv/lex"}, desc.Project)
	assert.Equal(t, blob.DriverS3, desc.Blob.Driver)
	assert.Equal(t, "lex", desc.Blob.S3.Bucket)
	assert.True(t, desc.Blob.S3.PathStyle)
	assert.Equal(t, "n1", desc.NodeID)

	opts, err := cfg.SessionOptions()
	require.NoError(t, err)
	assert.Len(t, opts, 3)

	assert.True(t, cfg.LoadScope().IsAll())
	cfg.Scope = []string{"LexSense"}
	assert.Equal(t, []domain.ClassID{"LexSense"}, cfg.LoadScope().Classes)
}
