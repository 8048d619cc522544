// Package integrity computes the tamper-detection digest stored alongside
// every session row. The digest covers the security-relevant fields only;
// any out-of-band mutation of those fields is detected on the next read.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/ruuderie/directory-auth/internal/domain"
)

// Digest returns the SHA-256 hex digest over the ordered tuple
// (id, user_id, bearer_token, token_expiration, is_admin). Expirations are
// canonicalized to RFC3339 UTC at second precision so the digest survives
// the round trip through timestamptz storage.
func Digest(s domain.Session) string {
	h := sha256.New()
	h.Write([]byte(s.ID.String()))
	h.Write([]byte(s.UserID.String()))
	h.Write([]byte(s.BearerToken))
	h.Write([]byte(canonicalTime(s.TokenExpiration)))
	h.Write([]byte(strconv.FormatBool(s.IsAdmin)))
	return hex.EncodeToString(h.Sum(nil))
}

// Seal stamps the session with a freshly computed digest. Every code path
// that mutates a security-relevant field must reseal in the same write.
func Seal(s *domain.Session) {
	s.IntegrityHash = Digest(*s)
}

// Verify recomputes the digest and compares it to the stored one. A false
// result means the row was corrupted or tampered with out-of-band; callers
// must reject the session and must not repair the hash.
func Verify(s domain.Session) bool {
	return s.IntegrityHash == Digest(s)
}

func canonicalTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}
