// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const (
	appName         = "commons"
	defaultFileName = "config.yaml"
)

// Dir returns the XDG configuration directory for commons. If XDG_CONFIG_HOME
// is unset it falls back to ~/.config.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", oops.Code("CONFIG_DIR_UNKNOWN").With("operation", "resolve home directory").Wrap(err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName), nil
}

// ResolvePath picks the configuration file to load. An explicit path always
// wins; otherwise the XDG default is used when it exists. An empty result
// means environment and flags only.
func ResolvePath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, defaultFileName)
	_, err = os.Stat(path)
	switch {
	case err == nil:
		return path, nil
	case errors.Is(err, fs.ErrNotExist):
		return "", nil
	default:
		// Unreadable files are reported rather than silently skipped.
		return "", oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
}
