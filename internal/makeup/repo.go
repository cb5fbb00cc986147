package makeup

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"smartcampus/internal/schedule"
)

// SessionRepository implements SessionRepo over Postgres.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a session repo.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Insert writes a new make-up session.
func (r *SessionRepository) Insert(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO makeup_sessions (id, section_id, date, start_minute, end_minute, room_id, scheduled_by, notes)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		RETURNING created_at
	`, s.ID, s.SectionID, s.Date, int(s.Slot.Start), int(s.Slot.End), s.RoomID, s.ScheduledBy, s.Notes)
	if err := row.Scan(&s.CreatedAt); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Get returns one session by id.
func (r *SessionRepository) Get(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, section_id, date, start_minute, end_minute, COALESCE(room_id, ''), scheduled_by, notes, created_at
		FROM makeup_sessions WHERE id = $1
	`, id)
	var s Session
	var start, end int
	err := row.Scan(&s.ID, &s.SectionID, &s.Date, &start, &end, &s.RoomID, &s.ScheduledBy, &s.Notes, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	s.Slot = schedule.Interval{Start: schedule.ClockMinutes(start), End: schedule.ClockMinutes(end)}
	return s, nil
}

// CodeRepository implements CodeRepo over Postgres. Token uniqueness is the
// table's primary guard; a collision surfaces as ErrTokenTaken from the
// single insert statement.
type CodeRepository struct {
	db *sql.DB
}

// NewCodeRepository creates a code repo.
func NewCodeRepository(db *sql.DB) *CodeRepository {
	return &CodeRepository{db: db}
}

// Insert writes a new code; a token collision maps to ErrTokenTaken.
func (r *CodeRepository) Insert(ctx context.Context, c Code) (Code, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO remedial_codes (id, session_id, token, expires_at, used)
		VALUES ($1, $2, $3, $4, FALSE)
	`, c.ID, c.SessionID, c.Token, c.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Code{}, ErrTokenTaken
		}
		return Code{}, err
	}
	return c, nil
}

// FindByToken returns a code by its (uppercase) token.
func (r *CodeRepository) FindByToken(ctx context.Context, token string) (Code, error) {
	return r.scanCode(r.db.QueryRowContext(ctx, `
		SELECT id, session_id, token, expires_at, used
		FROM remedial_codes WHERE token = $1
	`, token))
}

// FindActive returns an unused, unexpired code for the session. The
// (session_id, used) index backs this lookup.
func (r *CodeRepository) FindActive(ctx context.Context, sessionID string, now time.Time) (Code, error) {
	return r.scanCode(r.db.QueryRowContext(ctx, `
		SELECT id, session_id, token, expires_at, used
		FROM remedial_codes
		WHERE session_id = $1 AND used = FALSE AND expires_at > $2
		ORDER BY expires_at DESC
		LIMIT 1
	`, sessionID, now))
}

// Retire marks every unused code of the session used. Regeneration is the
// only caller; consumption never flips the flag.
func (r *CodeRepository) Retire(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE remedial_codes SET used = TRUE WHERE session_id = $1 AND used = FALSE
	`, sessionID)
	return err
}

func (r *CodeRepository) scanCode(row *sql.Row) (Code, error) {
	var c Code
	err := row.Scan(&c.ID, &c.SessionID, &c.Token, &c.ExpiresAt, &c.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return Code{}, ErrCodeNotFound
	}
	if err != nil {
		return Code{}, err
	}
	return c, nil
}
