package crypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testKey(t *testing.T) MasterKey {
	t.Helper()
	raw := make([]byte, KeySize)
	for i := range raw {
		raw[i] = byte(i)
	}
	k, err := NewMasterKey(raw)
	if err != nil {
		t.Fatalf("NewMasterKey() unexpected error = %v", err)
	}
	return k
}

func testCipher(t *testing.T) *CookieCipher {
	t.Helper()
	c, err := NewCookieCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewCookieCipher() unexpected error = %v", err)
	}
	return c
}

// TestMasterKeyFromBase64 tests operator-supplied keys of valid and invalid sizes
func TestMasterKeyFromBase64(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		errorMsg  string
		wantError bool
	}{
		{name: "empty key", key: "", wantError: true, errorMsg: "key is empty"},
		{name: "invalid base64", key: "not-valid-base64!@#$", wantError: true, errorMsg: "base64 decode failed"},
		{name: "key too short", key: base64.StdEncoding.EncodeToString(make([]byte, 16)), wantError: true, errorMsg: "must be 32 bytes"},
		{name: "key too long", key: base64.StdEncoding.EncodeToString(make([]byte, 64)), wantError: true, errorMsg: "must be 32 bytes"},
		{name: "valid 32-byte key", key: base64.StdEncoding.EncodeToString(make([]byte, 32))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MasterKeyFromBase64(tt.key)
			if tt.wantError {
				if err == nil {
					t.Fatalf("MasterKeyFromBase64() expected error but got nil")
				}
				if !errors.Is(err, ErrKeyUnavailable) {
					t.Errorf("MasterKeyFromBase64() error = %v, want ErrKeyUnavailable", err)
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("MasterKeyFromBase64() error = %v, want error containing %q", err, tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("MasterKeyFromBase64() unexpected error = %v", err)
			}
		})
	}
}

func TestMasterKey_Zero(t *testing.T) {
	k := testKey(t)
	k.Zero()
	if !bytes.Equal(k.Bytes(), make([]byte, KeySize)) {
		t.Errorf("Zero() left key material behind")
	}
}

// TestDecrypt_FixedFixture decrypts a blob built from a fixed key and nonce.
func TestDecrypt_FixedFixture(t *testing.T) {
	c := testCipher(t)
	nonce := []byte("0123456789ab")

	for _, version := range []string{"v10", "v11"} {
		t.Run(version, func(t *testing.T) {
			blob, err := c.EncryptWithNonce(version, nonce, []byte("abc"))
			if err != nil {
				t.Fatalf("EncryptWithNonce() unexpected error = %v", err)
			}
			if got, want := len(blob), 3+12+3+16; got != want {
				t.Fatalf("blob length = %d, want %d", got, want)
			}
			if !bytes.Equal(blob[3:15], nonce) {
				t.Errorf("nonce not at [3:15)")
			}
			got, err := c.Decrypt(blob)
			if err != nil {
				t.Fatalf("Decrypt() unexpected error = %v", err)
			}
			if string(got) != "abc" {
				t.Errorf("Decrypt() = %q, want %q", got, "abc")
			}
		})
	}
}

func TestDecrypt_EmptyPlaintext(t *testing.T) {
	c := testCipher(t)
	blob, err := c.Encrypt("v10", nil)
	if err != nil {
		t.Fatalf("Encrypt() unexpected error = %v", err)
	}
	got, err := c.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt() unexpected error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Decrypt() = %v, want empty non-nil value", got)
	}
}

// TestDecrypt_Failures tests every malformed-input path
func TestDecrypt_Failures(t *testing.T) {
	c := testCipher(t)
	good, err := c.Encrypt("v10", []byte("session-value"))
	if err != nil {
		t.Fatalf("Encrypt() unexpected error = %v", err)
	}

	tampered := append([]byte(nil), good...)
	tampered[len(tampered)-1] ^= 0xFF

	other, err := NewMasterKey(bytes.Repeat([]byte{0x42}, KeySize))
	if err != nil {
		t.Fatal(err)
	}
	otherCipher, err := NewCookieCipher(other)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		cipher *CookieCipher
		blob   []byte
	}{
		{name: "empty blob", cipher: c, blob: nil},
		{name: "shorter than tag", cipher: c, blob: []byte("v1")},
		{name: "unknown version", cipher: c, blob: append([]byte("v20"), good[3:]...)},
		{name: "missing gcm tag", cipher: c, blob: good[:3+12+5]},
		{name: "tag only", cipher: c, blob: []byte("v10")},
		{name: "tampered tag", cipher: c, blob: tampered},
		{name: "wrong key", cipher: otherCipher, blob: good},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cipher.Decrypt(tt.blob)
			if !errors.Is(err, ErrDecryptFailed) {
				t.Errorf("Decrypt() error = %v, want ErrDecryptFailed", err)
			}
			if got != nil {
				t.Errorf("Decrypt() = %q, want nil on failure", got)
			}
		})
	}
}

func TestEncrypt_NonceUniqueness(t *testing.T) {
	c := testCipher(t)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		blob, err := c.Encrypt("v11", []byte("same"))
		if err != nil {
			t.Fatalf("Encrypt() unexpected error = %v", err)
		}
		n := string(blob[3:15])
		if seen[n] {
			t.Fatalf("nonce reused after %d encryptions", i)
		}
		seen[n] = true
	}
}

func writeLocalState(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "Local State")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestUnwrapMasterKey(t *testing.T) {
	raw := bytes.Repeat([]byte{7}, KeySize)
	wrapped := base64.StdEncoding.EncodeToString(append([]byte("DPAPI"), []byte("opaque")...))
	identity := UnprotectFunc(func(b []byte) ([]byte, error) {
		if string(b) != "opaque" {
			return nil, errors.New("unexpected blob")
		}
		return append([]byte(nil), raw...), nil
	})

	tests := []struct {
		name      string
		state     string
		u         Unprotector
		wantError bool
	}{
		{name: "valid", state: `{"os_crypt":{"encrypted_key":"` + wrapped + `"}}`, u: identity},
		{name: "missing key", state: `{"os_crypt":{}}`, u: identity, wantError: true},
		{name: "not json", state: `{`, u: identity, wantError: true},
		{name: "bad base64", state: `{"os_crypt":{"encrypted_key":"%%%"}}`, u: identity, wantError: true},
		{
			name:      "wrong prefix",
			state:     `{"os_crypt":{"encrypted_key":"` + base64.StdEncoding.EncodeToString([]byte("XXXXXopaque")) + `"}}`,
			u:         identity,
			wantError: true,
		},
		{
			name:      "prefix only",
			state:     `{"os_crypt":{"encrypted_key":"` + base64.StdEncoding.EncodeToString([]byte("DPAPI")) + `"}}`,
			u:         identity,
			wantError: true,
		},
		{
			name:  "unprotect fails",
			state: `{"os_crypt":{"encrypted_key":"` + wrapped + `"}}`,
			u: UnprotectFunc(func([]byte) ([]byte, error) {
				return nil, errors.New("access denied")
			}),
			wantError: true,
		},
		{
			name:  "wrong key length",
			state: `{"os_crypt":{"encrypted_key":"` + wrapped + `"}}`,
			u: UnprotectFunc(func([]byte) ([]byte, error) {
				return make([]byte, 16), nil
			}),
			wantError: true,
		},
		{name: "nil unprotector", state: `{"os_crypt":{"encrypted_key":"` + wrapped + `"}}`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeLocalState(t, tt.state)
			k, err := UnwrapMasterKey(p, tt.u)
			if tt.wantError {
				if !errors.Is(err, ErrKeyUnavailable) {
					t.Errorf("UnwrapMasterKey() error = %v, want ErrKeyUnavailable", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("UnwrapMasterKey() unexpected error = %v", err)
			}
			if !bytes.Equal(k.Bytes(), raw) {
				t.Errorf("UnwrapMasterKey() key mismatch")
			}
		})
	}
}

func TestUnwrapMasterKey_MissingFile(t *testing.T) {
	_, err := UnwrapMasterKey(filepath.Join(t.TempDir(), "nope"), DPAPI{})
	if !errors.Is(err, ErrKeyUnavailable) {
		t.Errorf("UnwrapMasterKey() error = %v, want ErrKeyUnavailable", err)
	}
}
