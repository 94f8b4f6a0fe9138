package katana

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"crypto/sha256"
)

// Argon2Params mirrors the DeriveKey parameters of the pack's
// SSD-Technologies-LLC-nocturne/internal/crypto/kdf.go, generalized
// to the footer-recorded fields spec.md §4.8 requires (memory KiB,
// iterations, parallelism, 16-byte salt) rather than fixed constants.
type Argon2Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	Salt        [16]byte
}

// DefaultArgon2Params are used when a session is created with a
// password but no explicit KDF tuning, matching the teacher's
// magnitude (64 MiB, but tracked per-archive rather than hardcoded,
// since the footer must record whatever was actually used).
func DefaultArgon2Params() Argon2Params {
	p := Argon2Params{MemoryKiB: 64 * 1024, Iterations: 3, Parallelism: 4}
	if _, err := rand.Read(p.Salt[:]); err != nil {
		panic("katana: crypto/rand failed: " + err.Error())
	}
	return p
}

// sessionKeys holds the two subkeys expanded from the Argon2id master
// key: one for AEAD, one for the footer HMAC. Spec §4.8 calls this a
// "labeled HKDF-like expansion"; we use the real HKDF-SHA-256
// construction from golang.org/x/crypto/hkdf, the same module the
// teacher already depends on for pbkdf2, generalized to its sibling
// primitive the way nocturne's kdf.go generalizes argon2.
type sessionKeys struct {
	aeadKey [32]byte
	hmacKey [32]byte
}

func deriveSessionKeys(password string, p Argon2Params) (sessionKeys, error) {
	master := argon2.IDKey([]byte(password), p.Salt[:], p.Iterations, p.MemoryKiB, p.Parallelism, 32)

	var keys sessionKeys
	if err := expandLabel(master, "katana-aead-key-v1", keys.aeadKey[:]); err != nil {
		return sessionKeys{}, err
	}
	if err := expandLabel(master, "katana-hmac-key-v1", keys.hmacKey[:]); err != nil {
		return sessionKeys{}, err
	}
	return keys, nil
}

func expandLabel(master []byte, label string, out []byte) error {
	r := hkdf.New(sha256.New, master, nil, []byte(label))
	_, err := io.ReadFull(r, out)
	return err
}

// shardNonce constructs the per-shard AES-GCM nonce mandated by spec
// §4.3: shard_id (u32 big-endian) || 0u64. Because shard ids are
// unique within one archive and every archive uses a freshly salted
// key, this nonce is never reused under the same key.
func shardNonce(shardID uint32) [NonceSize]byte {
	var n [NonceSize]byte
	binary.BigEndian.PutUint32(n[0:4], shardID)
	return n
}

// SealShard encrypts a shard's compressed byte stream with AES-256-GCM
// under aeadKey, per spec §4.3 step 3-4. It returns the ciphertext and
// the 16-byte tag separately; the caller appends the tag to the stored
// region.
// The shard region is already bounded by the memory-budget scheduler,
// so a single Seal call over the buffered ciphertext satisfies the
// "streaming" contract without needing a hand-rolled AEAD chunking
// scheme — the same one-shot Seal/Open shape as the pack's
// nocturne/internal/crypto/aes.go.
func SealShard(aeadKey [32]byte, shardID uint32, plaintext []byte) (ciphertext []byte, nonce [NonceSize]byte, tag [TagSize]byte, err error) {
	block, err := aes.NewCipher(aeadKey[:])
	if err != nil {
		return nil, nonce, tag, fmt.Errorf("katana: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, nonce, tag, fmt.Errorf("katana: new gcm: %w", err)
	}
	nonce = shardNonce(shardID)
	sealed := gcm.Seal(nil, nonce[:], plaintext, nil)
	ct := sealed[:len(sealed)-TagSize]
	copy(tag[:], sealed[len(sealed)-TagSize:])
	return ct, nonce, tag, nil
}

// OpenShard authenticates and decrypts a shard. Any failure maps to
// AuthFailure, never a more specific error, so the caller channel
// cannot be used as a decryption oracle (spec §7).
func OpenShard(aeadKey [32]byte, nonce [NonceSize]byte, ciphertext []byte, tag [TagSize]byte) ([]byte, error) {
	block, err := aes.NewCipher(aeadKey[:])
	if err != nil {
		return nil, errAuthFailure()
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, errAuthFailure()
	}
	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag[:]...)
	plaintext, err := gcm.Open(nil, nonce[:], sealed, nil)
	if err != nil {
		return nil, errAuthFailure()
	}
	return plaintext, nil
}
