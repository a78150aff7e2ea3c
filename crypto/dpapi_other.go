//go:build !windows

package crypto

import "errors"

// ErrUnprotectUnsupported is returned by DPAPI on platforms without the service.
// Supply COOKIE_MASTER_KEY instead.
var ErrUnprotectUnsupported = errors.New("dpapi: not supported on this platform")

// DPAPI is unavailable outside Windows.
type DPAPI struct{}

// Unprotect always fails with ErrUnprotectUnsupported.
func (DPAPI) Unprotect([]byte) ([]byte, error) {
	return nil, ErrUnprotectUnsupported
}
