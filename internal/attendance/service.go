package attendance

import (
	"context"
	"errors"
	"time"

	"smartcampus/internal/metrics"
)

// Mark statuses and kinds.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"

	KindRegular = "regular"
	KindMakeUp  = "make_up"
)

var (
	// ErrStudentNotFound is returned when a roll number has no match in the section.
	ErrStudentNotFound = errors.New("student not found in section")
	// ErrDuplicateMark is returned when a make-up mark already exists for (student, code).
	ErrDuplicateMark = errors.New("attendance already recorded for this code")
)

// Student is a roster member. Read-only here; the directory owns it.
type Student struct {
	ID            string
	Name          string
	RollNumber    string
	Email         string
	GuardianName  string
	GuardianEmail string
	SectionID     string
}

// Mark is one attendance record. Regular marks are unique per (student, date);
// make-up marks are unique per (student, code). Two scopes, one entity.
type Mark struct {
	ID        string
	StudentID string
	Date      time.Time
	Status    string
	Kind      string
	CodeID    *string
	MarkedBy  string
	MarkedAt  time.Time
}

// RosterRepo is the read-only lookup port for section rosters. Ordering is by
// roll number so reconciliation output is deterministic.
type RosterRepo interface {
	ListBySection(ctx context.Context, sectionID string) ([]Student, error)
	// FindByRoll matches a roll number case-insensitively within one section.
	FindByRoll(ctx context.Context, sectionID, rollNumber string) (Student, error)
	CountStudents(ctx context.Context, sectionID string) (int, error)
}

// MarkRepo persists attendance marks. Both writes must be atomic against their
// uniqueness scope: UpsertRegular is insert-or-update keyed (student, date),
// InsertMakeUp is create-if-absent keyed (student, code) and returns
// ErrDuplicateMark when the row already exists.
type MarkRepo interface {
	UpsertRegular(ctx context.Context, m Mark) error
	InsertMakeUp(ctx context.Context, m Mark) (Mark, error)
	ListForStudentsOnDate(ctx context.Context, studentIDs []string, date time.Time) ([]Mark, error)
	// PresentRatio returns present and total regular-mark counts for a student.
	PresentRatio(ctx context.Context, studentID string) (present int, total int, err error)
}

// Notifier receives the absentees a reconciliation certified. Delivery is the
// collaborator's problem; the reconciler only decides who qualifies.
type Notifier interface {
	NotifyAbsentees(ctx context.Context, absentees []Student, date time.Time) error
}

// Result is the complete present/absent partition of a roster for one date.
type Result struct {
	Present []Student
	Absent  []Student
}

// Reconciler turns partial present-marking input into a full partition with
// exactly one regular mark per roster member per date.
type Reconciler struct {
	roster   RosterRepo
	marks    MarkRepo
	notifier Notifier
}

// NewReconciler creates a reconciler over its ports. notifier may be nil when
// no delivery collaborator is wired.
func NewReconciler(roster RosterRepo, marks MarkRepo, notifier Notifier) *Reconciler {
	return &Reconciler{roster: roster, marks: marks, notifier: notifier}
}

// Reconcile upserts a present mark for every roster member in presentIDs,
// derives absentees from the persisted marks, upserts their absent marks, and
// returns the resulting partition. Invoking it again with the same inputs
// leaves the stored marks unchanged and yields an identical result. Present
// IDs that are not on the roster are ignored; a stale form submission after a
// roster change is not an error.
func (r *Reconciler) Reconcile(ctx context.Context, sectionID string, date time.Time, presentIDs []string, marker string) (Result, error) {
	roster, err := r.roster.ListBySection(ctx, sectionID)
	if err != nil {
		return Result{}, err
	}
	if len(roster) == 0 {
		return Result{}, nil
	}

	requested := make(map[string]bool, len(presentIDs))
	for _, id := range presentIDs {
		requested[id] = true
	}

	rosterIDs := make([]string, 0, len(roster))
	for _, st := range roster {
		rosterIDs = append(rosterIDs, st.ID)
		if !requested[st.ID] {
			continue
		}
		err := r.marks.UpsertRegular(ctx, Mark{
			StudentID: st.ID,
			Date:      date,
			Status:    StatusPresent,
			Kind:      KindRegular,
			MarkedBy:  marker,
		})
		if err != nil {
			return Result{}, err
		}
	}

	// Absentees are roster members with no mark of any kind for the date, so a
	// make-up mark on the same date also shields a student from an absent mark.
	marked, err := r.markedStudents(ctx, rosterIDs, date)
	if err != nil {
		return Result{}, err
	}
	for _, st := range roster {
		if marked[st.ID] {
			continue
		}
		err := r.marks.UpsertRegular(ctx, Mark{
			StudentID: st.ID,
			Date:      date,
			Status:    StatusAbsent,
			Kind:      KindRegular,
			MarkedBy:  marker,
		})
		if err != nil {
			return Result{}, err
		}
	}

	result, err := r.partition(ctx, roster, rosterIDs, date)
	if err != nil {
		return Result{}, err
	}
	if r.notifier != nil && len(result.Absent) > 0 {
		if err := r.notifier.NotifyAbsentees(ctx, result.Absent, date); err != nil {
			return Result{}, err
		}
	}
	metrics.Reconciliations.Inc()
	return result, nil
}

func (r *Reconciler) markedStudents(ctx context.Context, studentIDs []string, date time.Time) (map[string]bool, error) {
	existing, err := r.marks.ListForStudentsOnDate(ctx, studentIDs, date)
	if err != nil {
		return nil, err
	}
	marked := make(map[string]bool, len(existing))
	for _, m := range existing {
		marked[m.StudentID] = true
	}
	return marked, nil
}

// partition re-reads persisted marks so the reported split reflects stored
// state, not just this invocation's input. Roster order is preserved.
func (r *Reconciler) partition(ctx context.Context, roster []Student, rosterIDs []string, date time.Time) (Result, error) {
	stored, err := r.marks.ListForStudentsOnDate(ctx, rosterIDs, date)
	if err != nil {
		return Result{}, err
	}
	present := make(map[string]bool, len(stored))
	for _, m := range stored {
		if m.Status == StatusPresent {
			present[m.StudentID] = true
		}
	}
	var res Result
	for _, st := range roster {
		if present[st.ID] {
			res.Present = append(res.Present, st)
		} else {
			res.Absent = append(res.Absent, st)
		}
	}
	return res, nil
}

// Summary is a student's regular-attendance ratio over all recorded dates.
type Summary struct {
	Present    int
	Total      int
	Percentage float64
}

// StudentSummary reports a student's present percentage across recorded dates.
func (r *Reconciler) StudentSummary(ctx context.Context, studentID string) (Summary, error) {
	present, total, err := r.marks.PresentRatio(ctx, studentID)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{Present: present, Total: total}
	if total > 0 {
		s.Percentage = float64(present) / float64(total) * 100
	}
	return s, nil
}
