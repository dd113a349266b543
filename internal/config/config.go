// Package config loads the optional tally configuration file and the server
// discovery file written by a running server.
package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the optional tally configuration file. Every field is a
// pointer so that an absent key can be told apart from a zero value.
type Config struct {
	Server ServerConfig `toml:"server"`
	Client ClientConfig `toml:"client"`
}

// ServerConfig holds defaults for `tally serve`.
type ServerConfig struct {
	Port         *int    `toml:"port"`
	FilesDir     *string `toml:"files_dir"`
	ResultsDir   *string `toml:"results_dir"`
	IdleTimeout  *string `toml:"idle_timeout"`
	DrainTimeout *string `toml:"drain_timeout"`
	Compress     *bool   `toml:"compress"`
	Index        *bool   `toml:"index"`
}

// ClientConfig holds defaults for `tally send`.
type ClientConfig struct {
	Host    *string `toml:"host"`
	Port    *int    `toml:"port"`
	Workers *int    `toml:"workers"`
	BWLimit *string `toml:"bwlimit"`
	Timeout *string `toml:"timeout"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "tally", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads the config file at path, with the same missing-file rule
// as Load.
func LoadFile(path string) (Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	return cfg, nil
}
