// Package config finds the configuration file when none is passed on the
// command line.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// DefaultPaths are searched in order for a file named config.{yaml,json,toml}.
var DefaultPaths = []string{".", "/etc/site-search/", "$HOME/.site-search"}

// Locate returns the first config file found under paths (DefaultPaths when
// empty). It returns "" without error when there is none, so the service can
// run from environment variables alone.
func Locate(paths ...string) (string, error) {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	v := viper.New()
	v.SetConfigName("config")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("locate config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}
