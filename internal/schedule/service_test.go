package schedule

import (
	"context"
	"errors"
	"testing"
)

type fakeBookings struct {
	bookings []Booking
}

func (f *fakeBookings) ListForRoomDay(_ context.Context, roomID string, weekday int, excludeID string) ([]Booking, error) {
	var out []Booking
	for _, b := range f.bookings {
		if b.RoomID == roomID && b.Weekday == weekday && b.ID != excludeID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBookings) Get(_ context.Context, id string) (Booking, error) {
	for _, b := range f.bookings {
		if b.ID == id {
			return b, nil
		}
	}
	return Booking{}, ErrBookingNotFound
}

func (f *fakeBookings) Insert(_ context.Context, b Booking) (Booking, error) {
	if b.ID == "" {
		b.ID = "bk-new"
	}
	f.bookings = append(f.bookings, b)
	return b, nil
}

func (f *fakeBookings) Update(_ context.Context, b Booking) error {
	for i := range f.bookings {
		if f.bookings[i].ID == b.ID {
			f.bookings[i] = b
			return nil
		}
	}
	return ErrBookingNotFound
}

type fakeRooms struct {
	rooms []Room
}

func (f *fakeRooms) List(_ context.Context) ([]Room, error) { return f.rooms, nil }

func (f *fakeRooms) Get(_ context.Context, id string) (Room, error) {
	for _, rm := range f.rooms {
		if rm.ID == id {
			return rm, nil
		}
	}
	return Room{}, ErrRoomNotFound
}

type fakeRoster map[string]int

func (f fakeRoster) CountStudents(_ context.Context, sectionID string) (int, error) {
	return f[sectionID], nil
}

func newTestService(bookings []Booking, rooms []Room, roster fakeRoster) *Service {
	return NewService(&fakeBookings{bookings: bookings}, &fakeRooms{rooms: rooms}, roster)
}

func TestIsAvailable(t *testing.T) {
	// booking 09:00-10:00 Monday in room R
	existing := []Booking{{ID: "bk1", RoomID: "R", Weekday: 0, Slot: mustInterval(t, "09:00", "10:00")}}
	svc := newTestService(existing, nil, fakeRoster{})
	ctx := context.Background()

	cases := []struct {
		name    string
		roomID  string
		weekday int
		slot    [2]string
		exclude string
		want    bool
	}{
		{"overlapping request", "R", 0, [2]string{"09:30", "10:30"}, "", false},
		{"back to back", "R", 0, [2]string{"10:00", "11:00"}, "", true},
		{"other weekday", "R", 1, [2]string{"09:30", "10:30"}, "", true},
		{"other room", "S", 0, [2]string{"09:30", "10:30"}, "", true},
		{"exact same slot", "R", 0, [2]string{"09:00", "10:00"}, "", false},
		{"edit excludes own booking", "R", 0, [2]string{"09:00", "10:00"}, "bk1", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.IsAvailable(ctx, tc.roomID, tc.weekday, mustInterval(t, tc.slot[0], tc.slot[1]), tc.exclude)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("IsAvailable = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsAvailableRejectsBadWeekday(t *testing.T) {
	svc := newTestService(nil, nil, fakeRoster{})
	for _, wd := range []int{-1, 7} {
		if _, err := svc.IsAvailable(context.Background(), "R", wd, mustInterval(t, "09:00", "10:00"), ""); !errors.Is(err, ErrInvalidWeekday) {
			t.Errorf("weekday %d: err = %v, want ErrInvalidWeekday", wd, err)
		}
	}
}

func TestSuggestRoomsRanking(t *testing.T) {
	// capacity 30 vs 50 vs 20 for a group of 25 at an identical free slot
	rooms := []Room{
		{ID: "big", Name: "Hall", Capacity: 50},
		{ID: "small", Name: "Lab", Capacity: 20},
		{ID: "right", Name: "Room 101", Capacity: 30},
	}
	svc := newTestService(nil, rooms, fakeRoster{"sec1": 25})

	got, err := svc.SuggestRooms(context.Background(), "sec1", 0, mustInterval(t, "09:00", "10:00"), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}

	if got[0].Room.ID != "right" || !got[0].Fits || got[0].Reason != ReasonGoodFit {
		t.Errorf("first = %+v, want cap-30 room labeled %q", got[0], ReasonGoodFit)
	}
	if got[1].Room.ID != "big" || !got[1].Fits || got[1].Reason != ReasonOversized {
		t.Errorf("second = %+v, want cap-50 room labeled %q", got[1], ReasonOversized)
	}
	if got[2].Room.ID != "small" || got[2].Fits || got[2].Reason != ReasonUndersized {
		t.Errorf("last = %+v, want cap-20 room with fits=false", got[2])
	}
	for _, s := range got {
		if s.GroupSize != 25 {
			t.Errorf("group size = %d, want 25", s.GroupSize)
		}
	}
}

func TestSuggestRoomsDropsUnavailable(t *testing.T) {
	rooms := []Room{
		{ID: "free", Name: "A", Capacity: 30},
		{ID: "taken", Name: "B", Capacity: 30},
	}
	existing := []Booking{{ID: "bk1", RoomID: "taken", Weekday: 2, Slot: mustInterval(t, "09:00", "11:00")}}
	svc := newTestService(existing, rooms, fakeRoster{"sec1": 10})

	got, err := svc.SuggestRooms(context.Background(), "sec1", 2, mustInterval(t, "10:00", "12:00"), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Room.ID != "free" {
		t.Fatalf("got %+v, want only the free room", got)
	}
}

func TestSuggestRoomsStableOrderForEqualCapacity(t *testing.T) {
	rooms := []Room{
		{ID: "b", Name: "B-201", Capacity: 40},
		{ID: "a", Name: "A-101", Capacity: 40},
	}
	svc := newTestService(nil, rooms, fakeRoster{"sec1": 35})
	got, err := svc.SuggestRooms(context.Background(), "sec1", 0, mustInterval(t, "09:00", "10:00"), "")
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Room.Name != "A-101" || got[1].Room.Name != "B-201" {
		t.Errorf("equal-capacity order = [%s %s], want name ascending", got[0].Room.Name, got[1].Room.Name)
	}
}

func TestSuggestRoomsEmptyPool(t *testing.T) {
	svc := newTestService(nil, nil, fakeRoster{"sec1": 10})
	got, err := svc.SuggestRooms(context.Background(), "sec1", 0, mustInterval(t, "09:00", "10:00"), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %d suggestions from an empty pool", len(got))
	}
}

func TestCreateBookingConflict(t *testing.T) {
	rooms := []Room{{ID: "R", Name: "R", Capacity: 30}}
	existing := []Booking{{ID: "bk1", RoomID: "R", Weekday: 0, Slot: mustInterval(t, "09:00", "10:00")}}
	svc := newTestService(existing, rooms, fakeRoster{})
	ctx := context.Background()

	if _, err := svc.CreateBooking(ctx, "sec1", "R", 0, mustInterval(t, "09:30", "10:30")); !errors.Is(err, ErrRoomConflict) {
		t.Errorf("overlapping create: err = %v, want ErrRoomConflict", err)
	}
	if _, err := svc.CreateBooking(ctx, "sec1", "R", 0, mustInterval(t, "10:00", "11:00")); err != nil {
		t.Errorf("back-to-back create failed: %v", err)
	}
}

func TestUpdateBookingAgainstItself(t *testing.T) {
	rooms := []Room{{ID: "R", Name: "R", Capacity: 30}}
	existing := []Booking{{ID: "bk1", SectionID: "sec1", RoomID: "R", Weekday: 0, Slot: mustInterval(t, "09:00", "10:00")}}
	svc := newTestService(existing, rooms, fakeRoster{})

	// re-saving unchanged data must not conflict with itself
	got, err := svc.UpdateBooking(context.Background(), "bk1", "R", 0, mustInterval(t, "09:00", "10:00"))
	if err != nil {
		t.Fatalf("unchanged edit: %v", err)
	}
	if got.ID != "bk1" || got.SectionID != "sec1" {
		t.Errorf("updated booking = %+v", got)
	}
}
