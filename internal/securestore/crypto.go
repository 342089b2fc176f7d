package securestore

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Params
const (
	KeyLen  = 32
	SaltLen = 16

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

// KDFParams tunes Argon2id.
type KDFParams struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultKDF returns the production Argon2id parameters.
func DefaultKDF() KDFParams {
	return KDFParams{Time: argonTime, Memory: argonMemory, Threads: argonThreads}
}

func randBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// deriveKey derives the state key: Argon2id over root||account with the
// record salt, then HKDF-SHA256 bound to the key context.
func deriveKey(p KDFParams, root []byte, accountID, keyContext string, salt []byte) ([]byte, error) {
	material := make([]byte, 0, len(root)+1+len(accountID))
	material = append(material, root...)
	material = append(material, ':')
	material = append(material, accountID...)
	master := argon2.IDKey(material, salt, p.Time, p.Memory, p.Threads, KeyLen)

	key := make([]byte, KeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, salt, []byte(keyContext)), key); err != nil {
		return nil, err
	}
	return key, nil
}

func aad(accountID, groupID string) []byte {
	out := make([]byte, 0, len(accountID)+1+len(groupID))
	out = append(out, accountID...)
	out = append(out, 0)
	out = append(out, groupID...)
	return out
}

// seal encrypts plaintext with XChaCha20-Poly1305 under a random nonce.
func seal(key, plaintext, ad []byte) (nonce, ct []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, err
	}
	nonce, err = randBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, nil, err
	}
	return nonce, aead.Seal(nil, nonce, plaintext, ad), nil
}

func open(key, nonce, ct, ad []byte) ([]byte, error) {
	if len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, errors.New("bad nonce length")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ct, ad)
}
