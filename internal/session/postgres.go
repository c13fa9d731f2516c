package session

// Conceptual schema:
//
//	sessions(
//	  id uuid primary key,
//	  identity_ref text not null,
//	  token_ciphertext bytea not null,
//	  token_digest text not null unique,
//	  identity_payload_ciphertext bytea,
//	  fingerprint text, device_info text, os_info text, timezone text, ip text,
//	  latitude double precision, longitude double precision,
//	  expires_at timestamptz not null,
//	  last_seen_at timestamptz,
//	  signed_out_at timestamptz,
//	  created_at timestamptz not null default now())
//
//	create index on sessions(identity_ref);
//
// The authoritative DDL is in internal/migrate/migrations.

import (
	"context"
	"database/sql"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const sessionColumns = `id, identity_ref, token_ciphertext, token_digest, identity_payload_ciphertext,
	fingerprint, device_info, os_info, timezone, ip, latitude, longitude,
	expires_at, last_seen_at, signed_out_at, created_at`

func (s *PGStore) Insert(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(id, identity_ref, token_ciphertext, token_digest, identity_payload_ciphertext,
		   fingerprint, device_info, os_info, timezone, ip, expires_at, last_seen_at, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		sess.ID, sess.IdentityID, sess.TokenCiphertext, sess.TokenDigest, sess.PayloadCiphertext,
		sess.Client.Fingerprint, sess.Client.DeviceInfo, sess.Client.OSInfo, sess.Client.Timezone,
		sess.Client.IP, sess.ExpiresAt, sess.LastSeenAt, sess.CreatedAt,
	)
	return err
}

func (s *PGStore) FindByDigest(ctx context.Context, digest string, now time.Time) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions
		 where token_digest=$1 and signed_out_at is null and expires_at > $2`,
		digest, now)
	return scanSession(row)
}

func (s *PGStore) FindByID(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where id=$1`, id)
	return scanSession(row)
}

func (s *PGStore) ListByIdentity(ctx context.Context, identityID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions where identity_ref=$1 order by created_at desc`,
		identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *PGStore) Touch(ctx context.Context, id string, ts time.Time) error {
	// last_seen_at stays monotone even when two touches race.
	_, err := s.db.ExecContext(ctx,
		`update sessions set last_seen_at=$2 where id=$1 and (last_seen_at is null or last_seen_at < $2)`,
		id, ts)
	return err
}

func (s *PGStore) Terminate(ctx context.Context, id string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set signed_out_at=$2, expires_at=$2 where id=$1 and signed_out_at is null`,
		id, ts)
	return err
}

func (s *PGStore) TerminateOwned(ctx context.Context, id, identityID string, ts time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set signed_out_at=$3, expires_at=$3
		 where id=$1 and identity_ref=$2 and signed_out_at is null`,
		id, identityID, ts)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PGStore) TerminateOthers(ctx context.Context, identityID, keepID string, ts time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set signed_out_at=$3, expires_at=$3
		 where identity_ref=$1 and id<>$2 and signed_out_at is null`,
		identityID, keepID, ts)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PGStore) SetLocation(ctx context.Context, id string, lat, lon float64) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set latitude=$2, longitude=$3 where id=$1`,
		id, lat, lon)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row *sql.Row) (*Session, error) {
	sess, err := scanSessionRows(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sess, err
}

func scanSessionRows(row rowScanner) (*Session, error) {
	var (
		sess                 Session
		fingerprint, device  sql.NullString
		osInfo, timezone, ip sql.NullString
		lat, lon             sql.NullFloat64
		lastSeen, signedOut  sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.IdentityID, &sess.TokenCiphertext, &sess.TokenDigest,
		&sess.PayloadCiphertext, &fingerprint, &device, &osInfo, &timezone, &ip,
		&lat, &lon, &sess.ExpiresAt, &lastSeen, &signedOut, &sess.CreatedAt)
	if err != nil {
		return nil, err
	}
	sess.Client = Client{
		Fingerprint: fingerprint.String,
		DeviceInfo:  device.String,
		OSInfo:      osInfo.String,
		Timezone:    timezone.String,
		IP:          ip.String,
	}
	if lat.Valid {
		v := lat.Float64
		sess.Latitude = &v
	}
	if lon.Valid {
		v := lon.Float64
		sess.Longitude = &v
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		sess.LastSeenAt = &t
	}
	if signedOut.Valid {
		t := signedOut.Time
		sess.SignedOutAt = &t
	}
	return &sess, nil
}
