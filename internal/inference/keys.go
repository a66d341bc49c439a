package inference

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/lobisloby/Link-Preview-AI/internal/kvstore"
)

// APIKeyStorageKey is the local-scope key holding the inference credential.
const APIKeyStorageKey = "hf_api_key"

// KeyProvider supplies the API key for each call.
type KeyProvider interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticKey is a KeyProvider with a fixed key.
type StaticKey string

func (k StaticKey) APIKey(context.Context) (string, error) {
	return string(k), nil
}

// StoreKeyProvider reads the key from storage on every call so a key saved
// from the popup takes effect without a restart. Fallback is used when no key
// is stored.
type StoreKeyProvider struct {
	Store    kvstore.Store
	Fallback string
}

func (p *StoreKeyProvider) APIKey(ctx context.Context) (string, error) {
	raw, err := p.Store.Get(ctx, APIKeyStorageKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return p.Fallback, nil
	}
	if err != nil {
		return "", err
	}

	// Values are normally JSON strings; accept a bare token too.
	var key string
	if json.Unmarshal(raw, &key) != nil {
		key = string(raw)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return p.Fallback, nil
	}
	return key, nil
}
