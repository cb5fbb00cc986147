package makeup

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"smartcampus/internal/attendance"
	"smartcampus/internal/metrics"
	"smartcampus/internal/schedule"
)

// Token alphabet excludes visually ambiguous characters (0/O, 1/I/L). Codes
// are case-insensitive by convention; storage is uppercase.
const (
	tokenAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	tokenLength   = 6

	// expiryGrace extends code validity past the session's scheduled end.
	expiryGrace = 15 * time.Minute

	maxGenerationAttempts = 10
)

var (
	// ErrBlankCode is returned before any lookup when the raw token is empty.
	ErrBlankCode = errors.New("code is required")
	// ErrBlankRoll is returned before any lookup when the roll number is empty.
	ErrBlankRoll = errors.New("roll number is required")
	// ErrCodeNotFound is returned when no code matches the token.
	ErrCodeNotFound = errors.New("code not found")
	// ErrCodeConsumed is returned when the code was retired by regeneration.
	ErrCodeConsumed = errors.New("code already consumed")
	// ErrCodeExpired is returned when the code's expiry has passed.
	ErrCodeExpired = errors.New("code expired")
	// ErrTokenTaken is the repo-level signal for a token collision on insert.
	ErrTokenTaken = errors.New("token already exists")
	// ErrGenerationExhausted is returned when token generation keeps colliding
	// past the bounded attempt count.
	ErrGenerationExhausted = errors.New("could not generate unique code after max attempts")
	// ErrSessionNotFound is returned for an unknown make-up session.
	ErrSessionNotFound = errors.New("make-up session not found")
	// ErrAlreadyRecorded rejects a second consumption by the same student.
	ErrAlreadyRecorded = attendance.ErrDuplicateMark
)

// Session is a scheduled make-up class. Immutable after creation except for
// its codes.
type Session struct {
	ID          string
	SectionID   string
	Date        time.Time
	Slot        schedule.Interval
	RoomID      string
	ScheduledBy string
	Notes       string
	CreatedAt   time.Time
}

// Code is a time-boxed access code owned by one session. used marks
// administrative supersession, not per-student consumption: every enrolled
// student may consume an active code exactly once each.
type Code struct {
	ID        string
	SessionID string
	Token     string
	ExpiresAt time.Time
	Used      bool
}

// SessionRepo persists make-up sessions.
type SessionRepo interface {
	Insert(ctx context.Context, s Session) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
}

// CodeRepo persists codes. Insert must be atomic against the global token
// uniqueness and return ErrTokenTaken on collision.
type CodeRepo interface {
	Insert(ctx context.Context, c Code) (Code, error)
	FindByToken(ctx context.Context, token string) (Code, error)
	// FindActive returns an unused, unexpired code for the session, or
	// ErrCodeNotFound when none exists.
	FindActive(ctx context.Context, sessionID string, now time.Time) (Code, error)
	// Retire sets used on every unused code of the session.
	Retire(ctx context.Context, sessionID string) error
}

// AvailabilityChecker is the slice of the scheduler a session creation needs
// to conflict-check its optional room.
type AvailabilityChecker interface {
	IsAvailable(ctx context.Context, roomID string, weekday int, slot schedule.Interval, excludeID string) (bool, error)
}

// Service runs the remedial code lifecycle. The reference timezone for expiry
// is explicit configuration, not ambient process state.
type Service struct {
	sessions SessionRepo
	codes    CodeRepo
	roster   attendance.RosterRepo
	marks    attendance.MarkRepo
	checker  AvailabilityChecker
	loc      *time.Location
	now      func() time.Time
}

// NewService creates the lifecycle manager. checker may be nil when sessions
// are created without rooms.
func NewService(sessions SessionRepo, codes CodeRepo, roster attendance.RosterRepo, marks attendance.MarkRepo, checker AvailabilityChecker, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		sessions: sessions,
		codes:    codes,
		roster:   roster,
		marks:    marks,
		checker:  checker,
		loc:      loc,
		now:      time.Now,
	}
}

// ScheduleSession creates a make-up session. A requested room is
// conflict-checked for the weekday of the scheduled date before accepting.
func (s *Service) ScheduleSession(ctx context.Context, sectionID string, date time.Time, slot schedule.Interval, roomID, scheduledBy, notes string) (Session, error) {
	if _, err := schedule.NewInterval(slot.Start, slot.End); err != nil {
		return Session{}, err
	}
	if roomID != "" && s.checker != nil {
		free, err := s.checker.IsAvailable(ctx, roomID, mondayWeekday(date), slot, "")
		if err != nil {
			return Session{}, err
		}
		if !free {
			return Session{}, schedule.ErrRoomConflict
		}
	}
	return s.sessions.Insert(ctx, Session{
		SectionID:   sectionID,
		Date:        date,
		Slot:        slot,
		RoomID:      roomID,
		ScheduledBy: scheduledBy,
		Notes:       notes,
	})
}

// GetSession returns one session by id.
func (s *Service) GetSession(ctx context.Context, id string) (Session, error) {
	return s.sessions.Get(ctx, id)
}

// Issue generates and stores a fresh code for the session. Expiry is the
// session's scheduled end plus the grace buffer, in the configured timezone.
// Collisions retry up to the attempt bound, then fail loudly.
func (s *Service) Issue(ctx context.Context, session Session) (Code, error) {
	expiresAt := s.sessionEnd(session).Add(expiryGrace)
	for attempt := 0; attempt < maxGenerationAttempts; attempt++ {
		token, err := generateToken()
		if err != nil {
			return Code{}, err
		}
		code, err := s.codes.Insert(ctx, Code{
			SessionID: session.ID,
			Token:     token,
			ExpiresAt: expiresAt,
		})
		if errors.Is(err, ErrTokenTaken) {
			continue
		}
		if err != nil {
			return Code{}, err
		}
		return code, nil
	}
	return Code{}, ErrGenerationExhausted
}

// GetOrCreateActive returns the session's active code, issuing one if needed.
// Historical retired or expired codes are left alone.
func (s *Service) GetOrCreateActive(ctx context.Context, sessionID string) (Code, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return Code{}, err
	}
	code, err := s.codes.FindActive(ctx, sessionID, s.now())
	if err == nil {
		return code, nil
	}
	if !errors.Is(err, ErrCodeNotFound) {
		return Code{}, err
	}
	return s.Issue(ctx, session)
}

// Regenerate retires the session's outstanding codes and issues a fresh one.
// This is the only path that sets used; consumption never does.
func (s *Service) Regenerate(ctx context.Context, sessionID string) (Code, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return Code{}, err
	}
	if err := s.codes.Retire(ctx, sessionID); err != nil {
		return Code{}, err
	}
	return s.Issue(ctx, session)
}

// Validate normalizes and resolves a raw token. Consumed and expired are
// distinct failures so callers can render them differently.
func (s *Service) Validate(ctx context.Context, rawToken string) (Code, error) {
	token := strings.ToUpper(strings.TrimSpace(rawToken))
	if token == "" {
		metrics.CodeValidations.WithLabelValues("blank").Inc()
		return Code{}, ErrBlankCode
	}
	code, err := s.codes.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			metrics.CodeValidations.WithLabelValues("not_found").Inc()
		}
		return Code{}, err
	}
	if code.Used {
		metrics.CodeValidations.WithLabelValues("consumed").Inc()
		return Code{}, ErrCodeConsumed
	}
	if !s.now().Before(code.ExpiresAt) {
		metrics.CodeValidations.WithLabelValues("expired").Inc()
		return Code{}, ErrCodeExpired
	}
	metrics.CodeValidations.WithLabelValues("ok").Inc()
	return code, nil
}

// ConsumeForAttendance validates the token, resolves the student within the
// code's section by roll number, and records a present make-up mark bound to
// the code. Self-service: the mark carries no marker. A second attempt by the
// same student fails with ErrAlreadyRecorded; the code itself stays active for
// the rest of the section.
func (s *Service) ConsumeForAttendance(ctx context.Context, rawToken, rollNumber string) (attendance.Mark, attendance.Student, error) {
	code, err := s.Validate(ctx, rawToken)
	if err != nil {
		return attendance.Mark{}, attendance.Student{}, err
	}
	roll := strings.TrimSpace(rollNumber)
	if roll == "" {
		return attendance.Mark{}, attendance.Student{}, ErrBlankRoll
	}
	session, err := s.sessions.Get(ctx, code.SessionID)
	if err != nil {
		return attendance.Mark{}, attendance.Student{}, err
	}
	student, err := s.roster.FindByRoll(ctx, session.SectionID, roll)
	if err != nil {
		return attendance.Mark{}, attendance.Student{}, err
	}
	mark, err := s.marks.InsertMakeUp(ctx, attendance.Mark{
		StudentID: student.ID,
		Date:      session.Date,
		Status:    attendance.StatusPresent,
		Kind:      attendance.KindMakeUp,
		CodeID:    &code.ID,
	})
	if err != nil {
		return attendance.Mark{}, attendance.Student{}, err
	}
	return mark, student, nil
}

// sessionEnd anchors the session's end-of-slot clock time on its date in the
// configured timezone.
func (s *Service) sessionEnd(session Session) time.Time {
	y, m, d := session.Date.Date()
	return time.Date(y, m, d, int(session.Slot.End)/60, int(session.Slot.End)%60, 0, 0, s.loc)
}

// mondayWeekday converts Go's Sunday-based weekday to the Monday=0 convention
// bookings use.
func mondayWeekday(date time.Time) int {
	return (int(date.Weekday()) + 6) % 7
}

// generateToken draws tokenLength characters from the restricted alphabet
// using a crypto source. The 32-character alphabet divides the byte range
// evenly, so the modulo is unbiased.
func generateToken() (string, error) {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	out := make([]byte, tokenLength)
	for i, b := range buf {
		out[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(out), nil
}
