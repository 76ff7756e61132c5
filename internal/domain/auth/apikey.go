package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/campus-canteen/internal/docstore"
)

// APIKeyCollection holds API keys keyed by their HMAC hash.
const APIKeyCollection = "apiKeys"

// ErrUnauthorized is returned for unknown, inactive or malformed API keys.
var ErrUnauthorized = errors.New("unauthorized")

// APIKeyInfo is the stored record of an API key.
type APIKeyInfo struct {
	KeyHash   string    `json:"keyHash"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	Principal Principal `json:"principal"`
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticator resolves API keys to principals.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Authenticate computes the HMAC of key, looks it up and compares the stored
// hash in constant time.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*Principal, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	mac := hmac.New(sha256.New, a.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := a.keys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil || info == nil || !info.Active {
		return nil, ErrUnauthorized
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, ErrUnauthorized
	}

	p := info.Principal
	return &p, nil
}

// APIKeyStore keeps API keys as documents.
type APIKeyStore struct {
	docs docstore.Store
}

var _ Repository = (*APIKeyStore)(nil)

func NewAPIKeyStore(docs docstore.Store) *APIKeyStore {
	return &APIKeyStore{docs: docs}
}

// FindByHash looks up an API key by its HMAC-SHA256 hash.
func (s *APIKeyStore) FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error) {
	doc, err := s.docs.Get(ctx, APIKeyCollection, hash)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("api key not found: %w", err)
		}
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	var info APIKeyInfo
	if err := doc.DataTo(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Save stores key for p under name, replacing any previous record.
func (s *APIKeyStore) Save(ctx context.Context, pepper []byte, key, name string, p Principal) error {
	if _, err := ParseRole(string(p.Role)); err != nil {
		return err
	}
	if p.UID == "" {
		return errors.New("principal uid is empty")
	}
	hash := HashKey(pepper, key)
	info := APIKeyInfo{KeyHash: hash, Name: name, Active: true, Principal: p}
	if err := s.docs.Put(ctx, APIKeyCollection, hash, info, false); err != nil {
		return fmt.Errorf("saving api key %q: %w", name, err)
	}
	return nil
}

// Revoke deactivates key.
func (s *APIKeyStore) Revoke(ctx context.Context, pepper []byte, key string) error {
	if err := s.docs.Update(ctx, APIKeyCollection, HashKey(pepper, key), map[string]any{"active": false}); err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	return nil
}
