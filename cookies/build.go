package cookies

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/live-recorder/crypto"
	"github.com/onnwee/live-recorder/telemetry"
)

// Cookies the platform requires for an authenticated session.
const (
	CookieTTWID        = "ttwid"
	CookieSessionID    = "sessionid"
	CookieSessionIDSS  = "sessionid_ss"
	maxFailedNamesKept = 5
)

// Report summarizes one Build.
type Report struct {
	Total       int      `json:"total"`
	Plaintext   int      `json:"plaintext"`
	Decrypted   int      `json:"decrypted"`
	Failed      int      `json:"failed"`
	FailedNames []string `json:"failed_names,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Decrypt returns the plaintext value for one record. A non-empty
// PlaintextFallback wins over the blob.
func Decrypt(rec Record, c *crypto.CookieCipher) (string, error) {
	if rec.PlaintextFallback != "" {
		return rec.PlaintextFallback, nil
	}
	if c == nil {
		return "", fmt.Errorf("%w: no cipher", crypto.ErrDecryptFailed)
	}
	b, err := c.Decrypt(rec.CipherBlob)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Build decrypts records into a Store. Individual failures are counted and
// skipped; Build itself only fails when no cipher can be made from key.
// Building the same records twice yields equal stores.
func Build(records []Record, key crypto.MasterKey) (*Store, Report, error) {
	c, err := crypto.NewCookieCipher(key)
	if err != nil {
		return nil, Report{}, fmt.Errorf("build cookie cipher: %w", err)
	}

	store := &Store{values: make(map[string]string, len(records))}
	rep := Report{Total: len(records)}
	for _, rec := range records {
		v, err := Decrypt(rec, c)
		if err != nil {
			if !errors.Is(err, crypto.ErrDecryptFailed) {
				slog.Debug("unexpected cookie decrypt error", slog.String("component", "cookies"), slog.String("name", rec.Name), slog.Any("err", err))
			}
			rep.Failed++
			if len(rep.FailedNames) < maxFailedNamesKept {
				rep.FailedNames = append(rep.FailedNames, rec.Name)
			}
			continue
		}
		if rec.PlaintextFallback != "" {
			rep.Plaintext++
		} else {
			rep.Decrypted++
		}
		// last write wins
		store.values[rec.Name] = v
	}
	rep.Warnings = requiredWarnings(store)

	telemetry.AddCookieRecords("plaintext", rep.Plaintext)
	telemetry.AddCookieRecords("decrypted", rep.Decrypted)
	telemetry.AddCookieRecords("failed", rep.Failed)
	return store, rep, nil
}

func requiredWarnings(s *Store) []string {
	var out []string
	if _, ok := s.Get(CookieTTWID); !ok {
		out = append(out, "ttwid cookie missing: requests may be rejected as anonymous")
	}
	_, a := s.Get(CookieSessionID)
	_, b := s.Get(CookieSessionIDSS)
	if !a && !b {
		out = append(out, "no sessionid or sessionid_ss cookie: browser profile is probably not logged in")
	}
	return out
}
