// Package securestore keeps per-group secure state encrypted at rest and
// recovers it from a trusted remote source when the local copy is unusable.
package securestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/navcom/groupctl/internal/errs"
)

// SchemaVersion is the only readable envelope version.
const SchemaVersion = 1

// Algorithm names the envelope cipher.
const Algorithm = "XCHACHA20-POLY1305"

var (
	// ErrSchemaVersion reports an envelope written by an unknown schema.
	ErrSchemaVersion = errors.New("unsupported secure group state schema version")
	// ErrDecrypt reports an envelope that does not open under the current root.
	ErrDecrypt = errors.New("secure group state decryption failed")
)

// Envelope is the encrypted form of one group state.
type Envelope struct {
	Version    int    `json:"version"`
	Algorithm  string `json:"algorithm"`
	AccountID  string `json:"accountId"`
	GroupID    string `json:"groupId"`
	KeyContext string `json:"keyContext"`
	Salt       string `json:"saltBase64"`
	Nonce      string `json:"nonceBase64"`
	Ciphertext string `json:"ciphertextBase64"`
	CreatedAt  int64  `json:"createdAt"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// Record is a stored envelope. Envelope is nil when the stored body was unreadable.
type Record struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	GroupID   string    `json:"groupId"`
	Envelope  *Envelope `json:"envelope"`
}

// RecordID returns the id of the state of a group for an account.
func RecordID(accountID, groupID string) string {
	return "secure-group-state:" + accountID + ":" + groupID
}

// KeyContext returns the key derivation context of a group state.
func KeyContext(accountID, groupID string) string {
	return "secure-group:" + accountID + ":" + groupID
}

// Store persists records. Get returns errs.ErrNotFound for a missing id.
type Store interface {
	Put(ctx context.Context, r Record) error
	Get(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
	ListByAccount(ctx context.Context, accountID string) ([]Record, error)
}

// Codec encrypts group state under an encryption root.
type Codec struct {
	root []byte
	kdf  KDFParams
	now  func() int64
}

// NewCodec returns a codec with production KDF parameters.
func NewCodec(root []byte) *Codec {
	return &Codec{root: append([]byte(nil), root...), kdf: DefaultKDF(), now: func() int64 { return time.Now().Unix() }}
}

// WithKDF overrides the Argon2id parameters.
func (c *Codec) WithKDF(p KDFParams) *Codec {
	c.kdf = p
	return c
}

// Encrypt seals state as JSON. now <= 0 uses wall time.
func (c *Codec) Encrypt(accountID, groupID string, state any, now int64) (Record, error) {
	if now <= 0 {
		now = c.now()
	}
	plain, err := json.Marshal(state)
	if err != nil {
		return Record{}, fmt.Errorf("marshal state: %w", err)
	}
	keyContext := KeyContext(accountID, groupID)
	salt, err := randBytes(SaltLen)
	if err != nil {
		return Record{}, err
	}
	key, err := deriveKey(c.kdf, c.root, accountID, keyContext, salt)
	if err != nil {
		return Record{}, err
	}
	nonce, ct, err := seal(key, plain, aad(accountID, groupID))
	if err != nil {
		return Record{}, err
	}

	enc := base64.StdEncoding.EncodeToString
	return Record{
		ID:        RecordID(accountID, groupID),
		AccountID: accountID,
		GroupID:   groupID,
		Envelope: &Envelope{
			Version:    SchemaVersion,
			Algorithm:  Algorithm,
			AccountID:  accountID,
			GroupID:    groupID,
			KeyContext: keyContext,
			Salt:       enc(salt),
			Nonce:      enc(nonce),
			Ciphertext: enc(ct),
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}, nil
}

// Decrypt opens r into out. Version mismatches return ErrSchemaVersion;
// any other failure to open returns ErrDecrypt.
func (c *Codec) Decrypt(r Record, out any) error {
	env := r.Envelope
	if env == nil {
		return fmt.Errorf("%w: missing envelope", ErrDecrypt)
	}
	if env.Version != SchemaVersion {
		return ErrSchemaVersion
	}
	dec := base64.StdEncoding.DecodeString
	salt, err1 := dec(env.Salt)
	nonce, err2 := dec(env.Nonce)
	ct, err3 := dec(env.Ciphertext)
	if err := errors.Join(err1, err2, err3); err != nil {
		return fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	key, err := deriveKey(c.kdf, c.root, env.AccountID, env.KeyContext, salt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	plain, err := open(key, nonce, ct, aad(env.AccountID, env.GroupID))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return nil
}

// Write encrypts state and stores it.
func Write(ctx context.Context, s Store, c *Codec, accountID, groupID string, state any, now int64) (Record, error) {
	r, err := c.Encrypt(accountID, groupID, state, now)
	if err != nil {
		return Record{}, err
	}
	if err := s.Put(ctx, r); err != nil {
		return Record{}, fmt.Errorf("put secure state: %w", err)
	}
	return r, nil
}

// Read loads and decrypts the state of a group. found is false when no record exists.
func Read(ctx context.Context, s Store, c *Codec, accountID, groupID string, out any) (found bool, err error) {
	r, err := s.Get(ctx, RecordID(accountID, groupID))
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, c.Decrypt(r, out)
}

// MigrateLegacy encrypts plaintext states keyed by group id. Records are
// returned in group order and are not stored.
func MigrateLegacy(c *Codec, accountID string, legacy map[string]any, now int64) ([]Record, error) {
	groups := make([]string, 0, len(legacy))
	for g := range legacy {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	out := make([]Record, 0, len(groups))
	for _, g := range groups {
		r, err := c.Encrypt(accountID, g, legacy[g], now)
		if err != nil {
			return nil, fmt.Errorf("migrate %s: %w", g, err)
		}
		out = append(out, r)
	}
	return out, nil
}
