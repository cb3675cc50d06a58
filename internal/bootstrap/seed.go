// Package bootstrap imports a human-editable YAML seed file describing
// initial libraries and settings, mirroring the teacher's own YAML-backed
// internal/config file format — adapted here to a one-shot import into the
// store rather than a hot-reloadable process config.
package bootstrap

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/theodorecharles/compressor/internal/apperr"
	"github.com/theodorecharles/compressor/internal/log"
	"github.com/theodorecharles/compressor/internal/settings"
	"github.com/theodorecharles/compressor/internal/store"
)

// SeedLibrary describes one library entry in a seed file.
type SeedLibrary struct {
	Name         string `yaml:"name"`
	Path         string `yaml:"path"`
	Enabled      *bool  `yaml:"enabled,omitempty"`
	WatchEnabled *bool  `yaml:"watchEnabled,omitempty"`
}

// SeedFile is the on-disk shape of a bootstrap seed file: the initial set
// of libraries to register and settings to apply on first run.
type SeedFile struct {
	Libraries []SeedLibrary     `yaml:"libraries"`
	Settings  map[string]string `yaml:"settings"`
}

// Load reads and parses a seed file from path.
func Load(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, "read seed file", err)
	}
	var sf SeedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "parse seed file", err)
	}
	return &sf, nil
}

// Apply registers every seed library and setting against st/settingsMgr.
// It is safe to run on every startup: a library whose path already exists
// is left untouched (apperr.Conflict from CreateLibrary is swallowed and
// logged at debug level) rather than erroring the whole import.
func Apply(ctx context.Context, st *store.Store, settingsMgr *settings.Settings, sf *SeedFile) error {
	logger := log.WithComponent("bootstrap")

	for _, lib := range sf.Libraries {
		if lib.Name == "" || lib.Path == "" {
			return apperr.New(apperr.Validation, fmt.Sprintf("seed library missing name or path: %+v", lib))
		}
		enabled := true
		if lib.Enabled != nil {
			enabled = *lib.Enabled
		}
		watchEnabled := false
		if lib.WatchEnabled != nil {
			watchEnabled = *lib.WatchEnabled
		}

		if _, err := st.CreateLibrary(ctx, lib.Name, lib.Path, enabled, watchEnabled); err != nil {
			if apperr.Is(err, apperr.Conflict) {
				logger.Debug().Str("library", lib.Name).Str("path", lib.Path).Msg("seed library already exists, skipping")
				continue
			}
			return apperr.Wrap(apperr.Storage, "create seed library", err)
		}
		logger.Info().Str("library", lib.Name).Str("path", lib.Path).Msg("registered library from seed file")
	}

	for key, value := range sf.Settings {
		if err := settingsMgr.Set(ctx, key, value); err != nil {
			return apperr.Wrap(apperr.Validation, fmt.Sprintf("apply seed setting %q", key), err)
		}
		logger.Info().Str("key", key).Str("value", value).Msg("applied setting from seed file")
	}
	return nil
}
