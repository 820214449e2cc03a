package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"sort"
	"sync"
)

var (
	// ErrMissingKey is returned when a request carries no API key.
	ErrMissingKey = errors.New("missing API key")

	// ErrInvalidKey is returned when a key matches no configured key.
	ErrInvalidKey = errors.New("invalid API key")
)

type keyEntry struct {
	name   string
	digest [sha256.Size]byte
}

// Validator checks API keys against a configured set of named keys.
type Validator struct {
	mu   sync.RWMutex
	keys []keyEntry
}

// NewValidator creates a validator from a name to key map. Empty keys are
// ignored.
func NewValidator(keys map[string]string) *Validator {
	v := &Validator{}
	for name, key := range keys {
		v.Add(name, key)
	}
	return v
}

// Validate returns the name of the key matching key. Every configured key
// is compared so the time taken does not depend on which one matched.
func (v *Validator) Validate(key string) (string, error) {
	if key == "" {
		return "", ErrMissingKey
	}
	digest := sha256.Sum256([]byte(key))

	v.mu.RLock()
	defer v.mu.RUnlock()

	matched := ""
	for _, k := range v.keys {
		if subtle.ConstantTimeCompare(digest[:], k.digest[:]) == 1 {
			matched = k.name
		}
	}
	if matched == "" {
		return "", ErrInvalidKey
	}
	return matched, nil
}

// Add registers key under name, replacing any key with the same name.
func (v *Validator) Add(name, key string) {
	if key == "" {
		return
	}
	entry := keyEntry{name: name, digest: sha256.Sum256([]byte(key))}

	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.keys {
		if v.keys[i].name == name {
			v.keys[i] = entry
			return
		}
	}
	v.keys = append(v.keys, entry)
}

// Remove deletes the key registered under name.
func (v *Validator) Remove(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.keys {
		if v.keys[i].name == name {
			v.keys = append(v.keys[:i], v.keys[i+1:]...)
			return
		}
	}
}

// Names returns the configured key names in sorted order.
func (v *Validator) Names() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	names := make([]string, len(v.keys))
	for i, k := range v.keys {
		names[i] = k.name
	}
	sort.Strings(names)
	return names
}

// Len returns the number of configured keys.
func (v *Validator) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.keys)
}
