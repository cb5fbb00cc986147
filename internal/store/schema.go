package store

import "context"

// Schema DDL for the scheduling and attendance core. The two partial unique
// indexes on attendance_marks carry the dual uniqueness scopes the reconciler
// and the code-consumption path rely on: conflict-target upserts against them
// are single atomic statements, so no application-level locking is needed.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		block TEXT NOT NULL DEFAULT '',
		capacity INT NOT NULL CHECK (capacity > 0)
	)`,
	`CREATE TABLE IF NOT EXISTS courses (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		credits INT
	)`,
	`CREATE TABLE IF NOT EXISTS sections (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		course_id TEXT REFERENCES courses(id)
	)`,
	`CREATE TABLE IF NOT EXISTS faculty (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS faculty_courses (
		faculty_id TEXT NOT NULL REFERENCES faculty(id),
		course_id TEXT NOT NULL REFERENCES courses(id),
		PRIMARY KEY (faculty_id, course_id)
	)`,
	`CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		roll_number TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		guardian_name TEXT NOT NULL DEFAULT '',
		guardian_email TEXT NOT NULL DEFAULT '',
		section_id TEXT NOT NULL REFERENCES sections(id),
		UNIQUE (section_id, roll_number)
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		section_id TEXT NOT NULL REFERENCES sections(id),
		room_id TEXT NOT NULL REFERENCES rooms(id),
		weekday INT NOT NULL CHECK (weekday BETWEEN 0 AND 6),
		start_minute INT NOT NULL,
		end_minute INT NOT NULL,
		CHECK (start_minute < end_minute),
		UNIQUE (room_id, weekday, start_minute)
	)`,
	`CREATE TABLE IF NOT EXISTS makeup_sessions (
		id TEXT PRIMARY KEY,
		section_id TEXT NOT NULL REFERENCES sections(id),
		date DATE NOT NULL,
		start_minute INT NOT NULL,
		end_minute INT NOT NULL,
		room_id TEXT REFERENCES rooms(id),
		scheduled_by TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (start_minute < end_minute)
	)`,
	`CREATE TABLE IF NOT EXISTS remedial_codes (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES makeup_sessions(id) ON DELETE CASCADE,
		token TEXT NOT NULL UNIQUE,
		expires_at TIMESTAMPTZ NOT NULL,
		used BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS remedial_codes_session_used_idx
		ON remedial_codes (session_id, used)`,
	`CREATE INDEX IF NOT EXISTS remedial_codes_expires_idx
		ON remedial_codes (expires_at)`,
	`CREATE TABLE IF NOT EXISTS attendance_marks (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL REFERENCES students(id),
		date DATE NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('present', 'absent')),
		kind TEXT NOT NULL CHECK (kind IN ('regular', 'make_up')),
		code_id TEXT REFERENCES remedial_codes(id) ON DELETE SET NULL,
		marked_by TEXT NOT NULL DEFAULT '',
		marked_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS attendance_regular_unique
		ON attendance_marks (student_id, date) WHERE kind = 'regular'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS attendance_makeup_unique
		ON attendance_marks (student_id, code_id) WHERE code_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS notification_log (
		id TEXT PRIMARY KEY,
		recipient_kind TEXT NOT NULL,
		recipient_email TEXT NOT NULL,
		subject TEXT NOT NULL,
		body TEXT NOT NULL,
		queued_at TIMESTAMPTZ NOT NULL,
		delivered_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate applies the schema. Statements are idempotent so startup can run it
// unconditionally.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
