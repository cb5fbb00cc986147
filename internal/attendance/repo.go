package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository implements the roster and mark ports over Postgres. Uniqueness is
// enforced by partial unique indexes so both writes are single atomic
// statements, never read-then-write sequences.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ListBySection returns the section roster ordered by roll number.
func (r *Repository) ListBySection(ctx context.Context, sectionID string) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, roll_number, email, guardian_name, guardian_email, section_id
		FROM students
		WHERE section_id = $1
		ORDER BY roll_number
	`, sectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roster []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.Name, &st.RollNumber, &st.Email, &st.GuardianName, &st.GuardianEmail, &st.SectionID); err != nil {
			return nil, err
		}
		roster = append(roster, st)
	}
	return roster, rows.Err()
}

// FindByRoll resolves a roll number within one section, case-insensitively.
// A student with that roll in a different section is not found.
func (r *Repository) FindByRoll(ctx context.Context, sectionID, rollNumber string) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, roll_number, email, guardian_name, guardian_email, section_id
		FROM students
		WHERE section_id = $1 AND LOWER(roll_number) = LOWER($2)
	`, sectionID, rollNumber)
	var st Student
	err := row.Scan(&st.ID, &st.Name, &st.RollNumber, &st.Email, &st.GuardianName, &st.GuardianEmail, &st.SectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return Student{}, ErrStudentNotFound
	}
	if err != nil {
		return Student{}, err
	}
	return st, nil
}

// CountStudents returns current enrollment for a section.
func (r *Repository) CountStudents(ctx context.Context, sectionID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students WHERE section_id = $1`, sectionID).Scan(&n)
	return n, err
}

// UpsertRegular writes a regular mark keyed (student, date). Repeating the
// write updates status and marker in place instead of adding a row.
func (r *Repository) UpsertRegular(ctx context.Context, m Mark) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_marks (id, student_id, date, status, kind, marked_by)
		VALUES ($1, $2, $3, $4, 'regular', $5)
		ON CONFLICT (student_id, date) WHERE kind = 'regular' DO UPDATE SET
			status = EXCLUDED.status,
			marked_by = EXCLUDED.marked_by,
			marked_at = NOW()
	`, m.ID, m.StudentID, m.Date, m.Status, m.MarkedBy)
	return err
}

// InsertMakeUp writes a make-up mark keyed (student, code). The conflict path
// inserts nothing, which surfaces as ErrDuplicateMark.
func (r *Repository) InsertMakeUp(ctx context.Context, m Mark) (Mark, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_marks (id, student_id, date, status, kind, code_id, marked_by)
		VALUES ($1, $2, $3, $4, 'make_up', $5, $6)
		ON CONFLICT (student_id, code_id) WHERE code_id IS NOT NULL DO NOTHING
		RETURNING marked_at
	`, m.ID, m.StudentID, m.Date, m.Status, m.CodeID, m.MarkedBy)
	if err := row.Scan(&m.MarkedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Mark{}, ErrDuplicateMark
		}
		return Mark{}, err
	}
	return m, nil
}

// ListForStudentsOnDate returns marks of any kind the students hold for the date.
func (r *Repository) ListForStudentsOnDate(ctx context.Context, studentIDs []string, date time.Time) ([]Mark, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, date, status, kind, code_id, marked_by, marked_at
		FROM attendance_marks
		WHERE student_id = ANY($1) AND date = $2
		ORDER BY marked_at
	`, studentIDs, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var marks []Mark
	for rows.Next() {
		var m Mark
		var markedBy sql.NullString
		if err := rows.Scan(&m.ID, &m.StudentID, &m.Date, &m.Status, &m.Kind, &m.CodeID, &markedBy, &m.MarkedAt); err != nil {
			return nil, err
		}
		m.MarkedBy = markedBy.String
		marks = append(marks, m)
	}
	return marks, rows.Err()
}

// PresentRatio counts present and total regular marks for a student.
func (r *Repository) PresentRatio(ctx context.Context, studentID string) (int, int, error) {
	var present, total int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'present'), COUNT(*)
		FROM attendance_marks
		WHERE student_id = $1 AND kind = 'regular'
	`, studentID).Scan(&present, &total)
	return present, total, err
}
