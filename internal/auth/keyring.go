package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// Key is a single HMAC signing secret with a derived identifier embedded into
// token headers so verification can pick the right key after a rotation.
type Key struct {
	ID     string
	Secret []byte
}

// Keyring holds an ordered set of keys. The head signs new tokens; every
// member still verifies, which gives tokens issued under a previous key a
// grace window after rotation. Reads and rotation are safe for concurrent
// use, and readers never observe a partially-updated set.
type Keyring struct {
	mu   sync.RWMutex
	keys []Key
	max  int
}

const defaultKeyringMax = 3

// NewKeyring builds a keyring from raw secrets, first secret signing. At
// least one non-empty secret is required; without it the service must not
// start.
func NewKeyring(secrets ...string) (*Keyring, error) {
	kr := &Keyring{max: defaultKeyringMax}
	for _, s := range secrets {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		kr.keys = append(kr.keys, newKey(s))
	}
	if len(kr.keys) == 0 {
		return nil, fmt.Errorf("%w: no signing secret configured", ErrInvalidInput)
	}
	if len(kr.keys) > kr.max {
		kr.keys = kr.keys[:kr.max]
	}
	return kr, nil
}

func newKey(secret string) Key {
	sum := sha256.Sum256([]byte(secret))
	return Key{
		// First 8 bytes of the digest are enough to disambiguate the
		// handful of keys a ring ever holds.
		ID:     hex.EncodeToString(sum[:8]),
		Secret: []byte(secret),
	}
}

// Signing returns the key used for newly minted tokens.
func (kr *Keyring) Signing() Key {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return kr.keys[0]
}

// Lookup finds a verification key by id.
func (kr *Keyring) Lookup(kid string) (Key, bool) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	for _, k := range kr.keys {
		if k.ID == kid {
			return k, true
		}
	}
	return Key{}, false
}

// Rotate installs a new signing secret, retiring the oldest key once the
// ring is full. Rotating to the current signing secret is a no-op.
func (kr *Keyring) Rotate(secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return fmt.Errorf("%w: rotation secret is empty", ErrInvalidInput)
	}
	next := newKey(secret)

	kr.mu.Lock()
	defer kr.mu.Unlock()
	if kr.keys[0].ID == next.ID {
		return nil
	}
	keys := make([]Key, 0, len(kr.keys)+1)
	keys = append(keys, next)
	keys = append(keys, kr.keys...)
	if len(keys) > kr.max {
		keys = keys[:kr.max]
	}
	kr.keys = keys
	return nil
}

// Len reports the number of keys currently held.
func (kr *Keyring) Len() int {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return len(kr.keys)
}
