// Package token signs and verifies the compact bearer tokens presented on
// every authenticated request. Two disjoint claim shapes exist: tenant
// tokens carry a profile/directory scope, admin tokens carry only the admin
// marker. A token of one shape never validates as the other.
package token

import (
	"errors"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

// Validation failure modes. The HTTP boundary collapses all of them to a
// generic 401; the distinction exists for logs and tests only.
var (
	ErrTokenMalformed     = errors.New("token malformed")
	ErrSignatureInvalid   = errors.New("token signature invalid")
	ErrTokenExpired       = errors.New("token expired")
	ErrClaimShapeMismatch = errors.New("token claim shape mismatch")
)

// TenantClaims is the payload of a tenant-scoped bearer token. The embedded
// scope proves which directory the session was opened against; the live
// tenant scope is still re-derived per request from current memberships.
type TenantClaims struct {
	UserID      uuid.UUID
	ProfileID   uuid.UUID
	DirectoryID uuid.UUID
	Expiry      time.Time
}

// AdminClaims is the payload of an admin bearer token. It carries no tenant
// scope at all.
type AdminClaims struct {
	UserID uuid.UUID
	Expiry time.Time
}

type customClaims struct {
	ProfileID   string `json:"profile_id,omitempty"`
	DirectoryID string `json:"directory_id,omitempty"`
	Admin       bool   `json:"admin,omitempty"`
}

// Codec signs and validates bearer tokens with a process-wide HS256 secret
// injected at construction. Only HS256 is accepted on the validation path,
// so tokens signed under another algorithm are rejected outright.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option customizes a Codec.
type Option func(*Codec)

// WithClock overrides the time source, used by expiry boundary tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec constructs a Codec. The secret must be at least 32 bytes.
func NewCodec(secret []byte, bearerTTL time.Duration, opts ...Option) (*Codec, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("signing secret must be at least 32 bytes, got %d", len(secret))
	}
	c := &Codec{secret: secret, ttl: bearerTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL reports the bearer validity window tokens are issued with.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// IssueTenant signs a tenant-scoped bearer token. Expiry is embedded inside
// the signed payload.
func (c *Codec) IssueTenant(userID, profileID, directoryID uuid.UUID) (string, time.Time, error) {
	return c.issue(userID, customClaims{
		ProfileID:   profileID.String(),
		DirectoryID: directoryID.String(),
	})
}

// IssueAdmin signs an admin bearer token carrying no tenant scope.
func (c *Codec) IssueAdmin(userID uuid.UUID) (string, time.Time, error) {
	return c.issue(userID, customClaims{Admin: true})
}

func (c *Codec) issue(userID uuid.UUID, custom customClaims) (string, time.Time, error) {
	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.HS256, Key: c.secret},
		(&gojose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("new signer: %w", err)
	}

	now := c.now().UTC().Truncate(time.Second)
	expiry := now.Add(c.ttl)
	std := gojwt.Claims{
		Subject:  userID.String(),
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(expiry),
	}

	serialized, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("serialize token: %w", err)
	}
	return serialized, expiry, nil
}

// ValidateTenant verifies signature and expiry and requires the tenant claim
// shape. Admin tokens fail with ErrClaimShapeMismatch rather than silently
// defaulting the scope fields.
func (c *Codec) ValidateTenant(serialized string) (*TenantClaims, error) {
	std, custom, err := c.verify(serialized)
	if err != nil {
		return nil, err
	}
	if custom.Admin || custom.ProfileID == "" || custom.DirectoryID == "" {
		return nil, ErrClaimShapeMismatch
	}

	userID, err := uuid.Parse(std.Subject)
	if err != nil {
		return nil, ErrTokenMalformed
	}
	profileID, err := uuid.Parse(custom.ProfileID)
	if err != nil {
		return nil, ErrTokenMalformed
	}
	directoryID, err := uuid.Parse(custom.DirectoryID)
	if err != nil {
		return nil, ErrTokenMalformed
	}

	return &TenantClaims{
		UserID:      userID,
		ProfileID:   profileID,
		DirectoryID: directoryID,
		Expiry:      std.Expiry.Time(),
	}, nil
}

// ValidateAdmin verifies signature and expiry and requires the admin claim
// shape. Tenant tokens fail with ErrClaimShapeMismatch.
func (c *Codec) ValidateAdmin(serialized string) (*AdminClaims, error) {
	std, custom, err := c.verify(serialized)
	if err != nil {
		return nil, err
	}
	if !custom.Admin || custom.ProfileID != "" || custom.DirectoryID != "" {
		return nil, ErrClaimShapeMismatch
	}

	userID, err := uuid.Parse(std.Subject)
	if err != nil {
		return nil, ErrTokenMalformed
	}

	return &AdminClaims{UserID: userID, Expiry: std.Expiry.Time()}, nil
}

func (c *Codec) verify(serialized string) (*gojwt.Claims, *customClaims, error) {
	parsed, err := gojwt.ParseSigned(serialized, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return nil, nil, ErrTokenMalformed
	}

	var std gojwt.Claims
	var custom customClaims
	if err := parsed.Claims(c.secret, &std, &custom); err != nil {
		return nil, nil, ErrSignatureInvalid
	}

	if std.Expiry == nil {
		return nil, nil, ErrTokenMalformed
	}
	// Strict boundary: a token is already invalid at exactly its expiry.
	if !c.now().Before(std.Expiry.Time()) {
		return nil, nil, ErrTokenExpired
	}

	return &std, &custom, nil
}
