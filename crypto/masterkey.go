package crypto

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
)

// dpapiPrefix marks a DPAPI-wrapped key in the browser's Local State file.
const dpapiPrefix = "DPAPI"

// Unprotector unwraps a blob protected for the current OS user.
type Unprotector interface {
	Unprotect(blob []byte) ([]byte, error)
}

// UnprotectFunc adapts a function to Unprotector.
type UnprotectFunc func(blob []byte) ([]byte, error)

// Unprotect calls f.
func (f UnprotectFunc) Unprotect(blob []byte) ([]byte, error) { return f(blob) }

type localState struct {
	OSCrypt struct {
		EncryptedKey string `json:"encrypted_key"`
	} `json:"os_crypt"`
}

// UnwrapMasterKey reads the browser Local State file and unwraps the cookie
// master key with u. Every failure wraps ErrKeyUnavailable and no partial key
// is ever returned.
func UnwrapMasterKey(localStatePath string, u Unprotector) (MasterKey, error) {
	if u == nil {
		return MasterKey{}, fmt.Errorf("%w: no unprotector configured", ErrKeyUnavailable)
	}
	raw, err := os.ReadFile(localStatePath)
	if err != nil {
		return MasterKey{}, fmt.Errorf("%w: read local state: %v", ErrKeyUnavailable, err)
	}
	var st localState
	if err := json.Unmarshal(raw, &st); err != nil {
		return MasterKey{}, fmt.Errorf("%w: parse local state: %v", ErrKeyUnavailable, err)
	}
	if st.OSCrypt.EncryptedKey == "" {
		return MasterKey{}, fmt.Errorf("%w: os_crypt.encrypted_key missing", ErrKeyUnavailable)
	}
	wrapped, err := base64.StdEncoding.DecodeString(st.OSCrypt.EncryptedKey)
	if err != nil {
		return MasterKey{}, fmt.Errorf("%w: base64 decode failed: %v", ErrKeyUnavailable, err)
	}
	if len(wrapped) <= len(dpapiPrefix) || !bytes.HasPrefix(wrapped, []byte(dpapiPrefix)) {
		return MasterKey{}, fmt.Errorf("%w: encrypted key lacks %s prefix", ErrKeyUnavailable, dpapiPrefix)
	}

	plain, err := u.Unprotect(wrapped[len(dpapiPrefix):])
	if err != nil {
		return MasterKey{}, fmt.Errorf("%w: unprotect: %v", ErrKeyUnavailable, err)
	}
	key, err := NewMasterKey(plain)
	for i := range plain {
		plain[i] = 0
	}
	if err != nil {
		return MasterKey{}, err
	}
	return key, nil
}
