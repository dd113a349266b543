package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Discovery describes a running server. `tally serve` writes it on start and
// removes it on shutdown; `tally send` and `tally results` read it to fill in
// the port and results directory when they are not given.
type Discovery struct {
	StartedAt  time.Time `toml:"started_at"`
	Addr       string    `toml:"addr"`
	FilesDir   string    `toml:"files_dir"`
	ResultsDir string    `toml:"results_dir"`
	Port       int       `toml:"port"`
	PID        int       `toml:"pid"`
}

// discoveryPathOverride allows tests to redirect the discovery file path.
var discoveryPathOverride string //nolint:gochecknoglobals // test hook

// SetDiscoveryPathOverride sets a test override for the discovery path.
// Pass "" to restore the default. This is intended for tests only.
func SetDiscoveryPathOverride(path string) {
	discoveryPathOverride = path
}

// DiscoveryPath returns the per-user discovery file path: under
// $XDG_RUNTIME_DIR when set, otherwise under a uid-named temp directory.
func DiscoveryPath() string {
	if discoveryPathOverride != "" {
		return discoveryPathOverride
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "tally", "server.toml")
	}
	return filepath.Join(os.TempDir(), "tally-"+strconv.Itoa(os.Getuid()), "server.toml")
}

// WriteDiscovery writes the discovery file, readable only by its owner.
// Creates the parent directory if needed.
func WriteDiscovery(d Discovery) error {
	path := DiscoveryPath()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create discovery dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(d); err != nil {
		return fmt.Errorf("encode discovery: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// ReadDiscovery reads the discovery file. Returns os.ErrNotExist if no
// server has written one.
func ReadDiscovery() (Discovery, error) {
	var d Discovery
	_, err := toml.DecodeFile(DiscoveryPath(), &d)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Discovery{}, os.ErrNotExist
		}
		return Discovery{}, err
	}
	return d, nil
}

// RemoveDiscovery removes the discovery file (best-effort).
func RemoveDiscovery() {
	os.Remove(DiscoveryPath()) //nolint:errcheck // best-effort cleanup on shutdown
}
