package notify

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Repository implements AlertSource over Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SectionRates aggregates regular marks per section since the cutoff date.
func (r *Repository) SectionRates(ctx context.Context, since time.Time) ([]SectionRate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sec.id, sec.name,
		       COUNT(*) FILTER (WHERE m.status = 'present'),
		       COUNT(*)
		FROM attendance_marks m
		JOIN students st ON st.id = m.student_id
		JOIN sections sec ON sec.id = st.section_id
		WHERE m.kind = 'regular' AND m.date >= $1
		GROUP BY sec.id, sec.name
		ORDER BY sec.name
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rates []SectionRate
	for rows.Next() {
		var rate SectionRate
		if err := rows.Scan(&rate.SectionID, &rate.SectionName, &rate.Present, &rate.Total); err != nil {
			return nil, err
		}
		rates = append(rates, rate)
	}
	return rates, rows.Err()
}

// FacultyForSection returns the faculty assigned to the section's course.
func (r *Repository) FacultyForSection(ctx context.Context, sectionID string) ([]FacultyContact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT f.name, f.email
		FROM faculty f
		JOIN faculty_courses fc ON fc.faculty_id = f.id
		JOIN sections sec ON sec.course_id = fc.course_id
		WHERE sec.id = $1
		ORDER BY f.name
	`, sectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []FacultyContact
	for rows.Next() {
		var fc FacultyContact
		if err := rows.Scan(&fc.Name, &fc.Email); err != nil {
			return nil, err
		}
		contacts = append(contacts, fc)
	}
	return contacts, rows.Err()
}

// FacultyLoads returns distinct section counts and summed course credits per
// faculty member.
func (r *Repository) FacultyLoads(ctx context.Context) ([]FacultyLoad, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT f.name, f.email,
		       (SELECT COUNT(DISTINCT sec.id)
		        FROM sections sec
		        JOIN faculty_courses fc ON fc.course_id = sec.course_id
		        WHERE fc.faculty_id = f.id),
		       COALESCE((SELECT SUM(COALESCE(c.credits, 0))
		                 FROM faculty_courses fc
		                 JOIN courses c ON c.id = fc.course_id
		                 WHERE fc.faculty_id = f.id), 0)
		FROM faculty f
		ORDER BY f.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loads []FacultyLoad
	for rows.Next() {
		var load FacultyLoad
		if err := rows.Scan(&load.Contact.Name, &load.Contact.Email, &load.Sections, &load.Credits); err != nil {
			return nil, err
		}
		loads = append(loads, load)
	}
	return loads, rows.Err()
}

// ExpiringCodes returns unused codes expiring inside the look-ahead window.
// Backed by the expiry index on remedial_codes.
func (r *Repository) ExpiringCodes(ctx context.Context, now time.Time, window time.Duration) ([]ExpiringCode, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rc.token, sec.name, COALESCE(f.name, ''), COALESCE(f.email, ''), rc.expires_at
		FROM remedial_codes rc
		JOIN makeup_sessions ms ON ms.id = rc.session_id
		JOIN sections sec ON sec.id = ms.section_id
		LEFT JOIN faculty f ON f.id = ms.scheduled_by
		WHERE rc.used = FALSE AND rc.expires_at >= $1 AND rc.expires_at <= $2
		ORDER BY rc.expires_at
	`, now, now.Add(window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []ExpiringCode
	for rows.Next() {
		var ec ExpiringCode
		if err := rows.Scan(&ec.Token, &ec.SectionName, &ec.Scheduler.Name, &ec.Scheduler.Email, &ec.ExpiresAt); err != nil {
			return nil, err
		}
		codes = append(codes, ec)
	}
	return codes, rows.Err()
}

// LogRepository records handled notifications for audit. The log row stands in
// for the delivery channel, which is external to this system.
type LogRepository struct {
	db *sql.DB
}

// NewLogRepository creates a log repo.
func NewLogRepository(db *sql.DB) *LogRepository {
	return &LogRepository{db: db}
}

// Insert appends one delivery log row.
func (r *LogRepository) Insert(ctx context.Context, n Notification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notification_log (id, recipient_kind, recipient_email, subject, body, queued_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), n.RecipientKind, n.RecipientEmail, n.Subject, n.Body, n.QueuedAt)
	return err
}
