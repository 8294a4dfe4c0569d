package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// dekSize is the size, in bytes, of a generated data-encryption key.
const dekSize = 32

// Vault performs envelope encryption and decryption of provider secrets.
// A master key (process-level, never persisted) wraps a per-credential
// data-encryption key (DEK); the DEK in turn encrypts the plaintext secret.
// Both layers use AES-256-GCM.
type Vault struct {
	store     Store
	masterKey [32]byte
}

// New creates a Vault. masterKey must be exactly 32 bytes (AES-256); it is
// typically loaded from an environment variable or a mounted secret file
// and is never logged.
func New(store Store, masterKey [32]byte) *Vault {
	return &Vault{store: store, masterKey: masterKey}
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func randomNonce(size int) ([]byte, error) {
	nonce := make([]byte, size)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: generate nonce: %w", err)
	}
	return nonce, nil
}

// Seal encrypts a plaintext provider secret, producing a Credential row
// ready to persist. It generates a fresh random DEK, encrypts the secret
// under it, then wraps the DEK under the master key.
func (v *Vault) Seal(ctx context.Context, projectID, name, provider string, mode InjectionMode, header, plaintext string) (*Credential, error) {
	dek := make([]byte, dekSize)
	if _, err := rand.Read(dek); err != nil {
		return nil, fmt.Errorf("vault: generate dek: %w", err)
	}

	secretAEAD, err := newAEAD(dek)
	if err != nil {
		return nil, err
	}
	secretNonce, err := randomNonce(secretAEAD.NonceSize())
	if err != nil {
		return nil, err
	}
	encryptedSecret := secretAEAD.Seal(nil, secretNonce, []byte(plaintext), nil)

	masterAEAD, err := newAEAD(v.masterKey[:])
	if err != nil {
		return nil, err
	}
	dekNonce, err := randomNonce(masterAEAD.NonceSize())
	if err != nil {
		return nil, err
	}
	encryptedDEK := masterAEAD.Seal(nil, dekNonce, dek, nil)

	now := time.Now().UTC()
	return &Credential{
		ID:              uuid.New().String(),
		ProjectID:       projectID,
		Name:            name,
		Provider:        provider,
		EncryptedDEK:    encryptedDEK,
		DEKNonce:        dekNonce,
		EncryptedSecret: encryptedSecret,
		SecretNonce:     secretNonce,
		Version:         1,
		InjectionMode:   mode,
		InjectionHeader: header,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Open decrypts a credential row, returning the plaintext provider secret.
// Any AEAD authentication failure — a corrupted ciphertext or nonce, or a
// forged row — is a fatal ErrIntegrityViolation; callers must not retry
// with the same ciphertext.
func (v *Vault) Open(ctx context.Context, c *Credential) (plaintext string, err error) {
	masterAEAD, err := newAEAD(v.masterKey[:])
	if err != nil {
		return "", err
	}
	dek, err := masterAEAD.Open(nil, c.DEKNonce, c.EncryptedDEK, nil)
	if err != nil {
		return "", fmt.Errorf("%w: dek unwrap failed", ErrIntegrityViolation)
	}

	secretAEAD, err := newAEAD(dek)
	if err != nil {
		return "", err
	}
	secret, err := secretAEAD.Open(nil, c.SecretNonce, c.EncryptedSecret, nil)
	if err != nil {
		return "", fmt.Errorf("%w: secret unwrap failed", ErrIntegrityViolation)
	}

	return string(secret), nil
}

// Decrypt loads a credential by ID and decrypts it in one step.
func (v *Vault) Decrypt(ctx context.Context, credentialID string) (string, *Credential, error) {
	c, err := v.store.Get(ctx, credentialID)
	if err != nil {
		return "", nil, err
	}
	secret, err := v.Open(ctx, c)
	if err != nil {
		return "", nil, err
	}
	return secret, c, nil
}

// Rotate re-encrypts a credential's secret under a freshly generated DEK,
// bumping its version. The previous Credential row is returned so callers
// can keep it usable for the configured overlap window.
func (v *Vault) Rotate(ctx context.Context, credentialID, newPlaintext string) (current, previous *Credential, err error) {
	old, err := v.store.Get(ctx, credentialID)
	if err != nil {
		return nil, nil, err
	}

	sealed, err := v.Seal(ctx, old.ProjectID, old.Name, old.Provider, old.InjectionMode, old.InjectionHeader, newPlaintext)
	if err != nil {
		_ = v.store.AppendRotationLog(ctx, RotationEvent{
			CredentialID: credentialID, FromVersion: old.Version, Status: RotationFailed,
			Reason: err.Error(), At: time.Now().UTC(),
		})
		return nil, nil, err
	}
	sealed.ID = old.ID
	sealed.Version = old.Version + 1

	event := RotationEvent{
		CredentialID: credentialID,
		FromVersion:  old.Version,
		ToVersion:    sealed.Version,
		Status:       RotationSuccess,
		At:           time.Now().UTC(),
	}
	if err := v.store.Rotate(ctx, sealed, old, event); err != nil {
		return nil, nil, err
	}
	return sealed, old, nil
}

// Inject applies a decrypted secret to an outbound request using the
// credential's injection mode. It does not strip existing headers; callers
// must strip client-supplied auth headers before calling Inject.
type InjectionTarget struct {
	Header func(key, value string)
	URL    *url.URL
}

// basicEncode base64-encodes a "user:pass" secret for HTTP Basic auth. The
// vault stores the already-assembled "user:pass" string as the plaintext
// secret; Apply does not know the provider's username convention.
func basicEncode(secret string) string {
	return base64.StdEncoding.EncodeToString([]byte(secret))
}

// Apply mutates the injection target according to mode.
func Apply(mode InjectionMode, header, secret string, target InjectionTarget) error {
	switch mode {
	case InjectionBearer:
		target.Header("Authorization", "Bearer "+secret)
	case InjectionBasic:
		target.Header("Authorization", "Basic "+basicEncode(secret))
	case InjectionHeader:
		if header == "" {
			return fmt.Errorf("vault: header injection mode requires an injection header name")
		}
		target.Header(header, secret)
	case InjectionQuery:
		if header == "" {
			return fmt.Errorf("vault: query injection mode requires a parameter name")
		}
		if target.URL == nil {
			return fmt.Errorf("vault: query injection requires a URL target")
		}
		q := target.URL.Query()
		q.Set(header, secret)
		target.URL.RawQuery = q.Encode()
	case InjectionSigV4:
		// SigV4 signing is performed by the translator package, which has
		// access to the full canonical request; Apply is a no-op here.
	default:
		return fmt.Errorf("vault: unknown injection mode %q", mode)
	}
	return nil
}
