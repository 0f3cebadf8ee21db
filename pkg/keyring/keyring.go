// Package keyring holds the HMAC signing keys addressed by key id.
//
// Exactly one kid is current and used for new signatures; every kid in the ring
// stays valid for verification so keys can be rotated without downtime:
// add the new key, flip current, retire the old key after the replay window.
package keyring

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownKID   = errors.New("keyring: unknown kid")
	ErrBadSignature = errors.New("keyring: signature mismatch")
)

type Keyring struct {
	keys    map[string][]byte
	current string
}

func New(keys map[string]string, current string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, errors.New("keyring: no keys configured")
	}
	current = strings.TrimSpace(current)
	if current == "" {
		return nil, errors.New("keyring: current kid required")
	}
	k := &Keyring{keys: make(map[string][]byte, len(keys)), current: current}
	for kid, secret := range keys {
		kid = strings.TrimSpace(kid)
		if kid == "" {
			return nil, errors.New("keyring: empty kid")
		}
		if secret == "" {
			return nil, fmt.Errorf("keyring: empty secret for kid %q", kid)
		}
		k.keys[kid] = []byte(secret)
	}
	if _, ok := k.keys[current]; !ok {
		return nil, fmt.Errorf("%w: current kid %q not in ring", ErrUnknownKID, current)
	}
	return k, nil
}

func (k *Keyring) CurrentKID() string { return k.current }

func (k *Keyring) Has(kid string) bool {
	_, ok := k.keys[kid]
	return ok
}

// KIDs returns the configured key ids in sorted order.
func (k *Keyring) KIDs() []string {
	out := make([]string, 0, len(k.keys))
	for kid := range k.keys {
		out = append(out, kid)
	}
	sort.Strings(out)
	return out
}

// Sign returns the hex HMAC-SHA256 of msg under kid.
func (k *Keyring) Sign(msg, kid string) (string, error) {
	mac, err := k.mac(msg, kid)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(mac), nil
}

func (k *Keyring) Verify(msg, kid, sig string) error {
	want, err := k.mac(msg, kid)
	if err != nil {
		return err
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !hmac.Equal(want, got) {
		return ErrBadSignature
	}
	return nil
}

func (k *Keyring) mac(msg, kid string) ([]byte, error) {
	secret, ok := k.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
	}
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(msg))
	return h.Sum(nil), nil
}

// Hash returns the hex SHA-256 digest of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
