package cookies

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/onnwee/live-recorder/crypto"
)

// Profile locates one browser profile on disk.
type Profile struct {
	// UserDataDir holds "Local State" and the profile directories.
	UserDataDir string
	// Name is the profile directory, usually "Default".
	Name string
}

// DefaultProfile returns the Edge default profile of the current user.
func DefaultProfile() Profile {
	base := os.Getenv("LOCALAPPDATA")
	if base == "" {
		if home, err := os.UserHomeDir(); err == nil {
			base = filepath.Join(home, "AppData", "Local")
		}
	}
	return Profile{
		UserDataDir: filepath.Join(base, "Microsoft", "Edge", "User Data"),
		Name:        "Default",
	}
}

// LocalStatePath returns the path of the file holding the wrapped master key.
func (p Profile) LocalStatePath() string {
	return filepath.Join(p.UserDataDir, "Local State")
}

// CookiesPath returns the cookie database path. Newer browsers keep it under
// Network/; older ones directly in the profile directory.
func (p Profile) CookiesPath() string {
	name := p.Name
	if name == "" {
		name = "Default"
	}
	modern := filepath.Join(p.UserDataDir, name, "Network", "Cookies")
	if _, err := os.Stat(modern); err == nil {
		return modern
	}
	legacy := filepath.Join(p.UserDataDir, name, "Cookies")
	if _, err := os.Stat(legacy); err == nil {
		return legacy
	}
	return modern
}

// Extractor composes key unwrap, database read and decryption.
type Extractor struct {
	Profile     Profile
	Domain      string
	Unprotector crypto.Unprotector
	// MasterKey, when non-nil, is used instead of unwrapping Local State.
	MasterKey *crypto.MasterKey
}

// Extract builds the credential store. It fails only when no master key is
// available or the database cannot be read; per-record failures are reported.
func (e *Extractor) Extract(ctx context.Context) (*Store, Report, error) {
	logger := slog.Default().With(slog.String("component", "cookies"))

	var key crypto.MasterKey
	if e.MasterKey != nil {
		key = *e.MasterKey
	} else {
		k, err := crypto.UnwrapMasterKey(e.Profile.LocalStatePath(), e.Unprotector)
		if err != nil {
			return nil, Report{}, err
		}
		key = k
	}
	defer key.Zero()

	dbPath := e.Profile.CookiesPath()
	records, err := ReadRecords(ctx, dbPath, e.Domain)
	if err != nil {
		return nil, Report{}, fmt.Errorf("read cookie records: %w", err)
	}

	store, rep, err := Build(records, key)
	if err != nil {
		return nil, rep, err
	}
	if rep.Total == 0 {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("no cookies for %s in %s", e.Domain, dbPath))
	}
	logger.Info("cookie store built",
		slog.Int("total", rep.Total),
		slog.Int("plaintext", rep.Plaintext),
		slog.Int("decrypted", rep.Decrypted),
		slog.Int("failed", rep.Failed),
		slog.Any("failed_names", rep.FailedNames))
	for _, w := range rep.Warnings {
		logger.Warn(w)
	}
	return store, rep, nil
}

// IsKeyUnavailable reports whether err means extraction cannot proceed at all.
func IsKeyUnavailable(err error) bool {
	return errors.Is(err, crypto.ErrKeyUnavailable)
}
