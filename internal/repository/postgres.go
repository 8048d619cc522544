package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ruuderie/directory-auth/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserRepository       = (*PostgresUserRepo)(nil)
	_ SessionRepository    = (*PostgresSessionRepo)(nil)
	_ MembershipRepository = (*PostgresMembershipRepo)(nil)
	_ RequestLogRepository = (*PostgresRequestLogRepo)(nil)
)

// PostgresUserRepo implements UserRepository on pgx.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

const selectUserSQL = `SELECT id, username, email, password_hash, is_admin, is_active, last_login_at, created_at, updated_at
FROM users`

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	// Exact match: email lookups are deliberately case-sensitive.
	return r.scanUser(r.db.QueryRow(ctx, selectUserSQL+` WHERE email = $1`, email))
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	return r.scanUser(r.db.QueryRow(ctx, selectUserSQL+` WHERE id = $1`, id))
}

const insertUserSQL = `INSERT INTO users (id, username, email, password_hash, is_admin, is_active)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, username, email, password_hash, is_admin, is_active, last_login_at, created_at, updated_at`

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	row := r.db.QueryRow(ctx, insertUserSQL,
		user.ID, user.Username, user.Email, user.PasswordHash, user.IsAdmin, user.IsActive)
	created, err := r.scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func (r *PostgresUserRepo) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := r.db.Exec(ctx, `UPDATE users SET last_login_at = $2, updated_at = now() WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.IsActive, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, fmt.Errorf("get user: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// PostgresSessionRepo implements SessionRepository on pgx.
type PostgresSessionRepo struct {
	db *pgxpool.Pool
}

func NewPostgresSessionRepo(pool *pgxpool.Pool) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: pool}
}

const sessionColumns = `id, user_id, bearer_token, refresh_token, token_expiration, refresh_token_expiration,
created_at, last_accessed_at, is_admin, is_active, integrity_hash`

const insertSessionSQL = `INSERT INTO sessions (` + sessionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

func (r *PostgresSessionRepo) Create(ctx context.Context, s domain.Session) error {
	_, err := r.db.Exec(ctx, insertSessionSQL,
		s.ID, s.UserID, s.BearerToken, s.RefreshToken, s.TokenExpiration, s.RefreshTokenExpiration,
		s.CreatedAt, s.LastAccessedAt, s.IsAdmin, s.IsActive, s.IntegrityHash)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepo) GetByBearerToken(ctx context.Context, bearer string) (domain.Session, error) {
	return r.scanSession(r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE bearer_token = $1`, bearer))
}

func (r *PostgresSessionRepo) GetByRefreshToken(ctx context.Context, refresh string) (domain.Session, error) {
	return r.scanSession(r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token = $1`, refresh))
}

func (r *PostgresSessionRepo) TouchLastAccessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := r.db.Exec(ctx, `UPDATE sessions SET last_accessed_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

const rotateBearerSQL = `UPDATE sessions
SET bearer_token = $3, token_expiration = $4, last_accessed_at = $5, integrity_hash = $6
WHERE id = $1 AND bearer_token = $2 AND is_active`

func (r *PostgresSessionRepo) RotateBearerToken(ctx context.Context, id uuid.UUID, prevBearer, newBearer string, expiry, accessedAt time.Time, digest string) (bool, error) {
	tag, err := r.db.Exec(ctx, rotateBearerSQL, id, prevBearer, newBearer, expiry, accessedAt, digest)
	if err != nil {
		return false, fmt.Errorf("rotate bearer token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresSessionRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `UPDATE sessions SET is_active = false WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE refresh_token_expiration < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresSessionRepo) ListActive(ctx context.Context, limit int) ([]domain.Session, error) {
	rows, err := r.db.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE is_active ORDER BY last_accessed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		s, err := r.scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *PostgresSessionRepo) scanSession(row pgx.Row) (domain.Session, error) {
	var s domain.Session
	err := row.Scan(&s.ID, &s.UserID, &s.BearerToken, &s.RefreshToken, &s.TokenExpiration, &s.RefreshTokenExpiration,
		&s.CreatedAt, &s.LastAccessedAt, &s.IsAdmin, &s.IsActive, &s.IntegrityHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, fmt.Errorf("get session: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// PostgresMembershipRepo implements MembershipRepository on pgx.
type PostgresMembershipRepo struct {
	db *pgxpool.Pool
}

func NewPostgresMembershipRepo(pool *pgxpool.Pool) *PostgresMembershipRepo {
	return &PostgresMembershipRepo{db: pool}
}

const primaryMembershipSQL = `SELECT up.profile_id, p.directory_id
FROM user_profiles up
JOIN profiles p ON p.id = up.profile_id
WHERE up.user_id = $1
ORDER BY up.created_at
LIMIT 1`

func (r *PostgresMembershipRepo) PrimaryMembership(ctx context.Context, userID uuid.UUID) (domain.Membership, error) {
	var m domain.Membership
	err := r.db.QueryRow(ctx, primaryMembershipSQL, userID).Scan(&m.ProfileID, &m.DirectoryID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Membership{}, fmt.Errorf("primary membership: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Membership{}, fmt.Errorf("primary membership: %w", err)
	}
	return m, nil
}

const directoryIDsSQL = `SELECT p.directory_id
FROM user_profiles up
JOIN profiles p ON p.id = up.profile_id
WHERE up.user_id = $1
UNION
SELECT a.directory_id
FROM user_accounts ua
JOIN accounts a ON a.id = ua.account_id
WHERE ua.user_id = $1`

func (r *PostgresMembershipRepo) ListDirectoryIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, directoryIDsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("list directory ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan directory id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresMembershipRepo) CreateProfileMembership(ctx context.Context, userID, directoryID uuid.UUID) (domain.Membership, error) {
	var profileID uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT id FROM profiles WHERE directory_id = $1 LIMIT 1`, directoryID).Scan(&profileID)
	if errors.Is(err, pgx.ErrNoRows) {
		profileID = uuid.New()
		if _, err := r.db.Exec(ctx, `INSERT INTO profiles (id, directory_id) VALUES ($1, $2)`, profileID, directoryID); err != nil {
			return domain.Membership{}, fmt.Errorf("create profile: %w", err)
		}
	} else if err != nil {
		return domain.Membership{}, fmt.Errorf("find profile: %w", err)
	}

	if _, err := r.db.Exec(ctx, `INSERT INTO user_profiles (user_id, profile_id) VALUES ($1, $2)`, userID, profileID); err != nil {
		return domain.Membership{}, fmt.Errorf("create user profile: %w", err)
	}
	return domain.Membership{ProfileID: profileID, DirectoryID: directoryID}, nil
}

// PostgresRequestLogRepo implements RequestLogRepository on pgx.
type PostgresRequestLogRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRequestLogRepo(pool *pgxpool.Pool) *PostgresRequestLogRepo {
	return &PostgresRequestLogRepo{db: pool}
}

const insertRequestLogSQL = `INSERT INTO request_logs (id, user_id, request_type, status, failure_reason, ip_address, user_agent)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (r *PostgresRequestLogRepo) Append(ctx context.Context, entry domain.RequestLog) error {
	_, err := r.db.Exec(ctx, insertRequestLogSQL,
		entry.ID, entry.UserID, entry.RequestType, entry.Status, entry.FailureReason, entry.IPAddress, entry.UserAgent)
	if err != nil {
		return fmt.Errorf("append request log: %w", err)
	}
	return nil
}
