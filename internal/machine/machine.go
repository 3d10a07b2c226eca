// Package machine acquires a stable identifier for the current host to
// populate a catalog's metadata.machine field. This is deliberately
// minimal: read /etc/machine-id on Linux, and otherwise (or if that
// file is absent) fall back to a UUID generated once and cached under
// the user's cache directory so repeat runs on the same host agree.
package machine

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"github.com/tumulus/tumulus/internal/debug"
	"github.com/tumulus/tumulus/internal/errors"
)

const cacheFileName = "machine-id"

// ID returns a stable identifier for the current host.
func ID() (string, error) {
	if runtime.GOOS == "linux" {
		if id, ok := readEtcMachineID(); ok {
			return id, nil
		}
	}
	return cachedOrGenerated()
}

func readEtcMachineID() (string, bool) {
	data, err := os.ReadFile("/etc/machine-id")
	if err != nil {
		debug.Log("read /etc/machine-id: %v", err)
		return "", false
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", false
	}
	return id, true
}

func cachedOrGenerated() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		debug.Log("no user cache dir, generating an ephemeral machine id: %v", err)
		return uuid.New().String(), nil
	}

	path := filepath.Join(dir, "tumulus", cacheFileName)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := uuid.New().String()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		debug.Log("create machine-id cache dir: %v", err)
		return id, nil
	}
	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		debug.Log("cache machine id: %v", err)
	}
	return id, nil
}

// ErrMismatch is returned by Check when the catalog's recorded machine
// id differs from the current host's.
var ErrMismatch = errors.New("machine: catalog was recorded on a different host")

// Check compares recorded (from a catalog's metadata) against the
// current host's id. It never blocks an upload on its own; the upload
// command warns on a mismatch and, with --skip-machine-check, does not
// call Check at all.
func Check(recorded string) error {
	current, err := ID()
	if err != nil {
		return errors.Wrap(err, "determine current machine id")
	}
	if current != recorded {
		return errors.Wrapf(ErrMismatch, "recorded %q, current %q", recorded, current)
	}
	return nil
}
