package identity

// Conceptual schema:
//
//	identity_mirrors(
//	  id text primary key,
//	  external_id text not null unique,
//	  email text not null,
//	  first_name text, last_name text,
//	  access_level_name text, access_level_value integer not null default 0,
//	  created_at timestamptz not null default now(),
//	  updated_at timestamptz not null default now())
//
//	users(
//	  id text primary key,
//	  first_name text not null, last_name text not null,
//	  email text not null unique,
//	  password_hash text not null,
//	  access_level integer not null default 0,
//	  pretend_is_not_admin boolean not null default false,
//	  session_duration_seconds integer not null default 2592000,
//	  created_at timestamptz not null default now(),
//	  updated_at timestamptz not null default now())
//
// sessions.identity_ref references identity_mirrors.external_id (remote
// variant) or users.id (local variant); the mirror delete cascades to its
// sessions. The authoritative DDL is in internal/migrate/migrations.

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"idgate.org/internal/ids"
)

// normalizeEmail is the canonical storage form for email addresses. Insert
// and lookup both go through it, so case or whitespace at provisioning time
// can never strand an account.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var (
	_ MirrorStore = (*PGMirrorStore)(nil)
	_ UserStore   = (*PGUserStore)(nil)
)

// PGMirrorStore implements MirrorStore on PostgreSQL.
type PGMirrorStore struct {
	db *sql.DB
}

func NewPGMirrorStore(db *sql.DB) *PGMirrorStore {
	return &PGMirrorStore{db: db}
}

func (s *PGMirrorStore) Upsert(ctx context.Context, snap *RemoteSnapshot) (*Mirror, error) {
	if !snap.Valid() {
		return nil, ErrInvalidInput
	}
	row := s.db.QueryRowContext(ctx,
		`insert into identity_mirrors(id, external_id, email, first_name, last_name, access_level_name, access_level_value)
		 values($1,$2,$3,$4,$5,$6,$7)
		 on conflict (external_id) do update set
		   email=excluded.email,
		   first_name=excluded.first_name,
		   last_name=excluded.last_name,
		   access_level_name=excluded.access_level_name,
		   access_level_value=excluded.access_level_value,
		   updated_at=now()
		 returning id, external_id, email, first_name, last_name, access_level_name, access_level_value, created_at, updated_at`,
		ids.New(), snap.ID, snap.EmailAddress, snap.FirstName, snap.LastName,
		snap.Permissions.GlobalAccessLevel.Name, snap.Permissions.GlobalAccessLevel.Value,
	)
	return scanMirror(row)
}

func (s *PGMirrorStore) FindByExternalID(ctx context.Context, externalID string) (*Mirror, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, external_id, email, first_name, last_name, access_level_name, access_level_value, created_at, updated_at
		 from identity_mirrors where external_id=$1`, externalID)
	m, err := scanMirror(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return m, err
}

func (s *PGMirrorStore) Delete(ctx context.Context, externalID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `delete from sessions where identity_ref=$1`, externalID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from identity_mirrors where external_id=$1`, externalID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *PGMirrorStore) LastSeenAt(ctx context.Context, externalID string) (*time.Time, error) {
	return s.maxSessionTime(ctx, externalID, "last_seen_at")
}

func (s *PGMirrorStore) LastLoginAt(ctx context.Context, externalID string) (*time.Time, error) {
	return s.maxSessionTime(ctx, externalID, "created_at")
}

func (s *PGMirrorStore) maxSessionTime(ctx context.Context, externalID, column string) (*time.Time, error) {
	// column is one of two fixed names; never user input.
	var ts sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`select max(`+column+`) from sessions where identity_ref=$1`, externalID).Scan(&ts)
	if err != nil {
		return nil, err
	}
	if !ts.Valid {
		return nil, nil
	}
	t := ts.Time
	return &t, nil
}

func scanMirror(row *sql.Row) (*Mirror, error) {
	var m Mirror
	var firstName, lastName, levelName sql.NullString
	err := row.Scan(&m.ID, &m.ExternalID, &m.Email, &firstName, &lastName,
		&levelName, &m.AccessLevelValue, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.FirstName = firstName.String
	m.LastName = lastName.String
	m.AccessLevelName = levelName.String
	return &m, nil
}

// PGUserStore implements UserStore on PostgreSQL.
type PGUserStore struct {
	db *sql.DB
}

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

const userColumns = `id, first_name, last_name, email, password_hash, access_level, pretend_is_not_admin, session_duration_seconds, created_at, updated_at`

func (s *PGUserStore) Create(ctx context.Context, u *User) error {
	u.EmailAddress = normalizeEmail(u.EmailAddress)
	if u.EmailAddress == "" || u.PasswordHash == "" {
		return ErrInvalidInput
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.SessionDurationSeconds <= 0 {
		u.SessionDurationSeconds = int((30 * 24 * time.Hour).Seconds())
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, first_name, last_name, email, password_hash, access_level, pretend_is_not_admin, session_duration_seconds)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		u.ID, u.FirstName, u.LastName, u.EmailAddress, u.PasswordHash,
		int(u.Role), u.PretendNotAdmin, u.SessionDurationSeconds,
	)
	return err
}

func (s *PGUserStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *PGUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, normalizeEmail(email))
	return scanUser(row)
}

func (s *PGUserStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return s.updateColumn(ctx, id, `update users set password_hash=$2, updated_at=now() where id=$1`, passwordHash)
}

func (s *PGUserStore) SetRole(ctx context.Context, id string, role AccessRole) error {
	return s.updateColumn(ctx, id, `update users set access_level=$2, updated_at=now() where id=$1`, int(role))
}

func (s *PGUserStore) SetPretendNotAdmin(ctx context.Context, id string, pretend bool) error {
	return s.updateColumn(ctx, id, `update users set pretend_is_not_admin=$2, updated_at=now() where id=$1`, pretend)
}

// Session duration override bounds: one hour to thirty days.
const (
	minSessionDurationSeconds = 3600
	maxSessionDurationSeconds = 30 * 24 * 3600
)

func (s *PGUserStore) SetSessionDuration(ctx context.Context, id string, seconds int) error {
	if seconds < minSessionDurationSeconds || seconds > maxSessionDurationSeconds {
		return ErrInvalidInput
	}
	return s.updateColumn(ctx, id, `update users set session_duration_seconds=$2, updated_at=now() where id=$1`, seconds)
}

func (s *PGUserStore) updateColumn(ctx context.Context, id, query string, arg any) error {
	res, err := s.db.ExecContext(ctx, query, id, arg)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var role int
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.EmailAddress, &u.PasswordHash,
		&role, &u.PretendNotAdmin, &u.SessionDurationSeconds, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = AccessRole(role)
	return &u, nil
}
