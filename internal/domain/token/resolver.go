package token

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/alexedwards/argon2id"
)

// ErrInvalid is returned when a bearer value is malformed, unknown,
// expired, or revoked.
var ErrInvalid = errors.New("invalid token")

// ErrScopeDenied is returned when an admin key lacks the scope required
// for the requested operation.
var ErrScopeDenied = errors.New("scope denied")

// argon2idParams mirrors OWASP's minimum recommendation for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKey returns the SHA-256 hex hash of a raw token or admin key. This is
// the fast-path cache/store lookup key; it is never logged or persisted
// alongside the plaintext.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// HashKeyArgon2id returns an Argon2id PHC-format hash, used for admin keys
// minted through the CLI (`hash-key`) where a slow, salted hash is
// warranted because the plaintext never transits the network repeatedly.
func HashKeyArgon2id(raw string) (string, error) {
	return argon2id.CreateHash(raw, argon2idParams)
}

func detectHashType(stored string) string {
	if strings.HasPrefix(stored, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(stored, "sha256:") {
		return "sha256"
	}
	if len(stored) == 64 && isHex(stored) {
		return "sha256"
	}
	return "unknown"
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

func verifyHash(raw, stored string) (bool, error) {
	switch detectHashType(stored) {
	case "argon2id":
		return safeArgon2idCompare(raw, stored)
	case "sha256":
		expected := strings.TrimPrefix(stored, "sha256:")
		got := HashKey(raw)
		return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1, nil
	default:
		return false, fmt.Errorf("unknown hash type")
	}
}

func safeArgon2idCompare(raw, stored string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(raw, stored)
}

// Resolved is the outcome of a successful token resolution.
type Resolved struct {
	Token *Record
}

// ResolvedAdmin is the outcome of a successful admin key resolution.
type ResolvedAdmin struct {
	Key *AdminKey
}

// Resolver turns an inbound bearer value or X-Admin-Key into a resolved
// capability, consulting Cache before Store and populating Cache on miss.
type Resolver struct {
	store Store
	cache Cache
}

// NewResolver creates a Resolver backed by the given store and cache.
func NewResolver(store Store, cache Cache) *Resolver {
	return &Resolver{store: store, cache: cache}
}

// ResolveToken resolves a raw "Authorization: Bearer ailink_v1_…" value.
func (r *Resolver) ResolveToken(ctx context.Context, rawBearer string) (*Resolved, error) {
	raw := strings.TrimPrefix(rawBearer, "Bearer ")
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, Prefix) {
		return nil, ErrInvalid
	}

	id := HashKey(raw)

	if rec, ok := r.cache.Get(id); ok {
		if !rec.Active {
			return nil, ErrInvalid
		}
		return &Resolved{Token: rec}, nil
	}

	// Serialize concurrent reloads of the same cold key so N simultaneous
	// requests for an uncached token do not each hit the store.
	if guarded, ok := r.cache.(interface{ PerKeyLock(string) *sync.Mutex }); ok {
		lock := guarded.PerKeyLock(id)
		lock.Lock()
		defer lock.Unlock()
		if rec, ok := r.cache.Get(id); ok {
			if !rec.Active {
				return nil, ErrInvalid
			}
			return &Resolved{Token: rec}, nil
		}
	}

	rec, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalid
		}
		return nil, err
	}
	if !rec.Active {
		return nil, ErrInvalid
	}

	r.cache.Set(id, rec)
	return &Resolved{Token: rec}, nil
}

// ResolveByID resolves a token directly by its hashed ID, bypassing the
// "Bearer " prefix and hash steps. Used to replay an approved HITL request,
// where only the hash (ApprovalRequest.TokenID) was ever stored — the
// plaintext bearer is never persisted.
func (r *Resolver) ResolveByID(ctx context.Context, id string) (*Resolved, error) {
	if rec, ok := r.cache.Get(id); ok {
		if !rec.Active {
			return nil, ErrInvalid
		}
		return &Resolved{Token: rec}, nil
	}

	rec, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalid
		}
		return nil, err
	}
	if !rec.Active {
		return nil, ErrInvalid
	}

	r.cache.Set(id, rec)
	return &Resolved{Token: rec}, nil
}

// ResolveAdminKey resolves a raw X-Admin-Key value, trying the fast SHA-256
// lookup first and falling back to an Argon2id scan of all stored keys.
func (r *Resolver) ResolveAdminKey(ctx context.Context, raw string) (*ResolvedAdmin, error) {
	hash := HashKey(raw)
	if key, err := r.store.GetAdminKey(ctx, hash); err == nil {
		return r.finishAdmin(key)
	}

	keys, err := r.store.ListAdminKeys(ctx)
	if err != nil {
		return nil, ErrInvalid
	}
	for _, candidate := range keys {
		ok, verifyErr := verifyHash(raw, candidate.KeyHash)
		if verifyErr != nil || !ok {
			continue
		}
		return r.finishAdmin(candidate)
	}
	return nil, ErrInvalid
}

func (r *Resolver) finishAdmin(key *AdminKey) (*ResolvedAdmin, error) {
	if key.Revoked || key.IsExpired() {
		return nil, ErrInvalid
	}
	return &ResolvedAdmin{Key: key}, nil
}

// CheckScope returns ErrScopeDenied if the admin key lacks the given scope.
func CheckScope(key *AdminKey, scope AdminScope) error {
	if !key.HasScope(scope) {
		return ErrScopeDenied
	}
	return nil
}
