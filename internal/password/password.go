package password

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 2
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16
)

var errInvalidHash = errors.New("invalid password hash")

// Hash derives an argon2id hash of the password and encodes it in PHC string
// format. A fresh random salt is drawn per call, so hashing the same
// password twice yields different strings.
func Hash(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash with the parameters embedded in the encoded
// string and compares in constant time. It never returns the plaintext or
// the stored hash in any error.
func Verify(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errInvalidHash
	}

	version, err := parsePrefixed(parts[2], "v=", 32)
	if err != nil || int(version) != argon2.Version {
		return false, errInvalidHash
	}

	params := strings.Split(parts[3], ",")
	if len(params) != 3 {
		return false, errInvalidHash
	}
	mem, err := parsePrefixed(params[0], "m=", 32)
	if err != nil {
		return false, errInvalidHash
	}
	timeCost, err := parsePrefixed(params[1], "t=", 32)
	if err != nil {
		return false, errInvalidHash
	}
	threads, err := parsePrefixed(params[2], "p=", 8)
	if err != nil {
		return false, errInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errInvalidHash
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, errInvalidHash
	}

	actual := argon2.IDKey([]byte(password), salt, uint32(timeCost), uint32(mem), uint8(threads), uint32(len(expected)))
	return subtle.ConstantTimeCompare(actual, expected) == 1, nil
}

func parsePrefixed(value, prefix string, bits int) (uint64, error) {
	if !strings.HasPrefix(value, prefix) {
		return 0, errInvalidHash
	}
	return strconv.ParseUint(strings.TrimPrefix(value, prefix), 10, bits)
}

// Hasher bounds the number of argon2 derivations running at once so that
// slow hashing cannot monopolize the request-handling capacity of the
// process. Both methods wait for a slot and honor context cancellation
// while waiting.
type Hasher struct {
	slots *semaphore.Weighted
}

// NewHasher creates a Hasher allowing up to workers concurrent derivations.
// Zero or negative falls back to GOMAXPROCS.
func NewHasher(workers int) *Hasher {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Hasher{slots: semaphore.NewWeighted(int64(workers))}
}

// Hash derives a PHC-encoded argon2id hash within the worker budget.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.slots.Release(1)
	return Hash(password)
}

// Verify checks a password against an encoded hash within the worker budget.
func (h *Hasher) Verify(ctx context.Context, password, encoded string) (bool, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.slots.Release(1)
	return Verify(password, encoded)
}
