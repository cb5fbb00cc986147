package makeup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"smartcampus/internal/attendance"
	"smartcampus/internal/schedule"
)

type fakeSessions map[string]Session

func (f fakeSessions) Insert(_ context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = "ms-new"
	}
	s.CreatedAt = time.Now()
	f[s.ID] = s
	return s, nil
}

func (f fakeSessions) Get(_ context.Context, id string) (Session, error) {
	s, ok := f[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

type fakeCodes struct {
	byToken map[string]*Code
	// alwaysCollide makes every insert fail, for the exhaustion path.
	alwaysCollide bool
	inserts       int
}

func newFakeCodes() *fakeCodes {
	return &fakeCodes{byToken: map[string]*Code{}}
}

func (f *fakeCodes) Insert(_ context.Context, c Code) (Code, error) {
	f.inserts++
	if f.alwaysCollide {
		return Code{}, ErrTokenTaken
	}
	if _, ok := f.byToken[c.Token]; ok {
		return Code{}, ErrTokenTaken
	}
	if c.ID == "" {
		c.ID = "code-" + c.Token
	}
	f.byToken[c.Token] = &c
	return c, nil
}

func (f *fakeCodes) FindByToken(_ context.Context, token string) (Code, error) {
	c, ok := f.byToken[token]
	if !ok {
		return Code{}, ErrCodeNotFound
	}
	return *c, nil
}

func (f *fakeCodes) FindActive(_ context.Context, sessionID string, now time.Time) (Code, error) {
	for _, c := range f.byToken {
		if c.SessionID == sessionID && !c.Used && c.ExpiresAt.After(now) {
			return *c, nil
		}
	}
	return Code{}, ErrCodeNotFound
}

func (f *fakeCodes) Retire(_ context.Context, sessionID string) error {
	for _, c := range f.byToken {
		if c.SessionID == sessionID {
			c.Used = true
		}
	}
	return nil
}

type fakeRoster []attendance.Student

func (f fakeRoster) ListBySection(_ context.Context, sectionID string) ([]attendance.Student, error) {
	var out []attendance.Student
	for _, st := range f {
		if st.SectionID == sectionID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (f fakeRoster) FindByRoll(_ context.Context, sectionID, roll string) (attendance.Student, error) {
	for _, st := range f {
		if st.SectionID == sectionID && strings.EqualFold(st.RollNumber, roll) {
			return st, nil
		}
	}
	return attendance.Student{}, attendance.ErrStudentNotFound
}

func (f fakeRoster) CountStudents(_ context.Context, sectionID string) (int, error) {
	n, _ := f.ListBySection(context.Background(), sectionID)
	return len(n), nil
}

type fakeMarks struct {
	makeup map[string]attendance.Mark
}

func newFakeMarks() *fakeMarks {
	return &fakeMarks{makeup: map[string]attendance.Mark{}}
}

func (f *fakeMarks) UpsertRegular(_ context.Context, _ attendance.Mark) error { return nil }

func (f *fakeMarks) InsertMakeUp(_ context.Context, m attendance.Mark) (attendance.Mark, error) {
	key := m.StudentID + "|" + *m.CodeID
	if _, ok := f.makeup[key]; ok {
		return attendance.Mark{}, attendance.ErrDuplicateMark
	}
	f.makeup[key] = m
	return m, nil
}

func (f *fakeMarks) ListForStudentsOnDate(_ context.Context, _ []string, _ time.Time) ([]attendance.Mark, error) {
	return nil, nil
}

func (f *fakeMarks) PresentRatio(_ context.Context, _ string) (int, int, error) { return 0, 0, nil }

// testSession ends at 11:00 on 2024-03-11, so codes expire 11:15 UTC.
func testSession(t *testing.T) Session {
	t.Helper()
	start, _ := schedule.ParseClock("10:00")
	end, _ := schedule.ParseClock("11:00")
	return Session{
		ID:        "ms1",
		SectionID: "sec1",
		Date:      time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		Slot:      schedule.Interval{Start: start, End: end},
	}
}

func newTestService(t *testing.T, codes *fakeCodes) (*Service, fakeSessions) {
	t.Helper()
	sessions := fakeSessions{}
	sessions["ms1"] = testSession(t)
	roster := fakeRoster{
		{ID: "s1", Name: "Asha", RollNumber: "R-01", SectionID: "sec1"},
		{ID: "s2", Name: "Ben", RollNumber: "R-02", SectionID: "sec2"},
	}
	return NewService(sessions, codes, roster, newFakeMarks(), nil, time.UTC), sessions
}

func at(t *testing.T, clock string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02 15:04", "2024-03-11 "+clock)
	if err != nil {
		t.Fatal(err)
	}
	return parsed
}

func TestIssueTokenShape(t *testing.T) {
	codes := newFakeCodes()
	svc, sessions := newTestService(t, codes)

	code, err := svc.Issue(context.Background(), sessions["ms1"])
	if err != nil {
		t.Fatal(err)
	}
	if len(code.Token) != tokenLength {
		t.Errorf("token %q has length %d, want %d", code.Token, len(code.Token), tokenLength)
	}
	for _, r := range code.Token {
		if !strings.ContainsRune(tokenAlphabet, r) {
			t.Errorf("token %q contains %q outside the restricted alphabet", code.Token, r)
		}
	}
	want := at(t, "11:15")
	if !code.ExpiresAt.Equal(want) {
		t.Errorf("expiry = %v, want session end + grace = %v", code.ExpiresAt, want)
	}
}

func TestIssueExhaustsAfterBoundedAttempts(t *testing.T) {
	codes := newFakeCodes()
	codes.alwaysCollide = true
	svc, sessions := newTestService(t, codes)

	_, err := svc.Issue(context.Background(), sessions["ms1"])
	if !errors.Is(err, ErrGenerationExhausted) {
		t.Fatalf("err = %v, want ErrGenerationExhausted", err)
	}
	if codes.inserts != maxGenerationAttempts {
		t.Errorf("made %d attempts, want %d", codes.inserts, maxGenerationAttempts)
	}
}

func TestValidateExpiryBoundary(t *testing.T) {
	codes := newFakeCodes()
	svc, sessions := newTestService(t, codes)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, sessions["ms1"])
	if err != nil {
		t.Fatal(err)
	}

	svc.now = func() time.Time { return at(t, "11:14") }
	if _, err := svc.Validate(ctx, issued.Token); err != nil {
		t.Errorf("validate at 11:14: %v, want success", err)
	}

	svc.now = func() time.Time { return at(t, "11:16") }
	if _, err := svc.Validate(ctx, issued.Token); !errors.Is(err, ErrCodeExpired) {
		t.Errorf("validate at 11:16: %v, want ErrCodeExpired", err)
	}
}

func TestValidateDistinguishesConsumedFromExpired(t *testing.T) {
	codes := newFakeCodes()
	svc, sessions := newTestService(t, codes)
	ctx := context.Background()
	svc.now = func() time.Time { return at(t, "10:30") }

	issued, err := svc.Issue(ctx, sessions["ms1"])
	if err != nil {
		t.Fatal(err)
	}
	codes.byToken[issued.Token].Used = true

	// retired but not yet expired
	if _, err := svc.Validate(ctx, issued.Token); !errors.Is(err, ErrCodeConsumed) {
		t.Errorf("err = %v, want ErrCodeConsumed", err)
	}
}

func TestValidateNormalizesInput(t *testing.T) {
	codes := newFakeCodes()
	svc, sessions := newTestService(t, codes)
	ctx := context.Background()
	svc.now = func() time.Time { return at(t, "10:30") }

	issued, err := svc.Issue(ctx, sessions["ms1"])
	if err != nil {
		t.Fatal(err)
	}
	got, err := svc.Validate(ctx, "  "+strings.ToLower(issued.Token)+" ")
	if err != nil {
		t.Fatalf("lowercase padded token rejected: %v", err)
	}
	if got.Token != issued.Token {
		t.Errorf("resolved %q, want %q", got.Token, issued.Token)
	}

	if _, err := svc.Validate(ctx, "   "); !errors.Is(err, ErrBlankCode) {
		t.Errorf("blank token: err = %v, want ErrBlankCode", err)
	}
	if _, err := svc.Validate(ctx, "ZZZZZZ"); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("unknown token: err = %v, want ErrCodeNotFound", err)
	}
}

func TestGetOrCreateActiveReusesCode(t *testing.T) {
	codes := newFakeCodes()
	svc, _ := newTestService(t, codes)
	ctx := context.Background()
	svc.now = func() time.Time { return at(t, "10:00") }

	first, err := svc.GetOrCreateActive(ctx, "ms1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.GetOrCreateActive(ctx, "ms1")
	if err != nil {
		t.Fatal(err)
	}
	if first.Token != second.Token {
		t.Errorf("second call issued a fresh code %q, want existing %q", second.Token, first.Token)
	}
}

func TestRegenerateRetiresOldCode(t *testing.T) {
	codes := newFakeCodes()
	svc, _ := newTestService(t, codes)
	ctx := context.Background()
	svc.now = func() time.Time { return at(t, "10:00") }

	old, err := svc.GetOrCreateActive(ctx, "ms1")
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := svc.Regenerate(ctx, "ms1")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Token == old.Token {
		t.Fatal("regenerate returned the retired token")
	}
	if _, err := svc.Validate(ctx, old.Token); !errors.Is(err, ErrCodeConsumed) {
		t.Errorf("old code: err = %v, want ErrCodeConsumed", err)
	}
	if _, err := svc.Validate(ctx, fresh.Token); err != nil {
		t.Errorf("fresh code rejected: %v", err)
	}
}

func TestConsumeForAttendance(t *testing.T) {
	codes := newFakeCodes()
	svc, _ := newTestService(t, codes)
	ctx := context.Background()
	svc.now = func() time.Time { return at(t, "10:30") }

	issued, err := svc.GetOrCreateActive(ctx, "ms1")
	if err != nil {
		t.Fatal(err)
	}

	// roll lookup is case-insensitive
	mark, student, err := svc.ConsumeForAttendance(ctx, issued.Token, "r-01")
	if err != nil {
		t.Fatal(err)
	}
	if student.ID != "s1" {
		t.Errorf("resolved student %q, want s1", student.ID)
	}
	if mark.Kind != attendance.KindMakeUp || mark.Status != attendance.StatusPresent {
		t.Errorf("mark = %+v, want present make_up", mark)
	}
	if mark.MarkedBy != "" {
		t.Errorf("self-service mark has marker %q", mark.MarkedBy)
	}

	// second consumption by the same student is rejected, not overwritten
	if _, _, err := svc.ConsumeForAttendance(ctx, issued.Token, "R-01"); !errors.Is(err, ErrAlreadyRecorded) {
		t.Errorf("repeat: err = %v, want ErrAlreadyRecorded", err)
	}

	// consumption does not retire the code for the rest of the section
	if code, err := svc.Validate(ctx, issued.Token); err != nil || code.Used {
		t.Errorf("code after consumption: used=%v err=%v, want still active", code.Used, err)
	}

	// a student enrolled in a different section is not found
	if _, _, err := svc.ConsumeForAttendance(ctx, issued.Token, "R-02"); !errors.Is(err, attendance.ErrStudentNotFound) {
		t.Errorf("other section: err = %v, want ErrStudentNotFound", err)
	}

	if _, _, err := svc.ConsumeForAttendance(ctx, issued.Token, "  "); !errors.Is(err, ErrBlankRoll) {
		t.Errorf("blank roll: err = %v, want ErrBlankRoll", err)
	}
}

func TestScheduleSessionChecksRoomConflict(t *testing.T) {
	codes := newFakeCodes()
	svc, _ := newTestService(t, codes)
	svc.checker = conflictChecker{free: false}

	session := testSession(t)
	_, err := svc.ScheduleSession(context.Background(), "sec1", session.Date, session.Slot, "room1", "fac1", "")
	if !errors.Is(err, schedule.ErrRoomConflict) {
		t.Errorf("err = %v, want ErrRoomConflict", err)
	}

	svc.checker = conflictChecker{free: true}
	created, err := svc.ScheduleSession(context.Background(), "sec1", session.Date, session.Slot, "room1", "fac1", "notes")
	if err != nil {
		t.Fatal(err)
	}
	if created.RoomID != "room1" || created.ScheduledBy != "fac1" {
		t.Errorf("created = %+v", created)
	}
}

type conflictChecker struct{ free bool }

func (c conflictChecker) IsAvailable(_ context.Context, _ string, _ int, _ schedule.Interval, _ string) (bool, error) {
	return c.free, nil
}
