package schedule

import (
	"context"
	"errors"
	"sort"

	"smartcampus/internal/metrics"
)

// Fit labels surfaced on suggestions.
const (
	ReasonGoodFit    = "good fit"
	ReasonOversized  = "sufficient capacity, oversized"
	ReasonUndersized = "undersized for group"
)

// fitMargin is how many seats above group size still count as a tight fit.
const fitMargin = 10

var (
	// ErrInvalidWeekday is returned for weekdays outside 0 (Monday) .. 6 (Sunday).
	ErrInvalidWeekday = errors.New("weekday must be between 0 and 6")
	// ErrRoomConflict is returned when a requested slot overlaps an existing booking.
	ErrRoomConflict = errors.New("room is already booked for an overlapping slot")
	// ErrBookingNotFound is returned when editing a booking that does not exist.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrRoomNotFound is returned when the referenced room does not exist.
	ErrRoomNotFound = errors.New("room not found")
)

// Room is a bookable classroom. Read-only from the scheduler's point of view.
type Room struct {
	ID       string
	Name     string
	Block    string
	Capacity int
}

// Booking is one weekly slot held by a section in a room.
type Booking struct {
	ID        string
	SectionID string
	RoomID    string
	Weekday   int
	Slot      Interval
}

// Suggestion is one ranked room candidate for a section and slot.
type Suggestion struct {
	Room      Room
	Capacity  int
	GroupSize int
	Fits      bool
	Reason    string
}

// BookingRepo is the persistence port for weekly bookings.
type BookingRepo interface {
	// ListForRoomDay returns all bookings for a room on a weekday, excluding
	// the booking with excludeID when non-empty.
	ListForRoomDay(ctx context.Context, roomID string, weekday int, excludeID string) ([]Booking, error)
	Get(ctx context.Context, id string) (Booking, error)
	Insert(ctx context.Context, b Booking) (Booking, error)
	Update(ctx context.Context, b Booking) error
}

// RoomRepo is the read-only lookup port for rooms.
type RoomRepo interface {
	List(ctx context.Context) ([]Room, error)
	Get(ctx context.Context, id string) (Room, error)
}

// RosterCounter reports current section enrollment for capacity fit.
type RosterCounter interface {
	CountStudents(ctx context.Context, sectionID string) (int, error)
}

// Service decides room availability and ranks suggestions. All booking
// mutations go through it so no insert bypasses the conflict check.
type Service struct {
	bookings BookingRepo
	rooms    RoomRepo
	roster   RosterCounter
}

// NewService creates a scheduling service over its lookup ports.
func NewService(bookings BookingRepo, rooms RoomRepo, roster RosterCounter) *Service {
	return &Service{bookings: bookings, rooms: rooms, roster: roster}
}

// IsAvailable reports whether a room is free for the slot. excludeID names a
// booking to ignore so an edit does not conflict with its own prior slot.
// Absence of bookings is a legitimate available result, not an error.
func (s *Service) IsAvailable(ctx context.Context, roomID string, weekday int, slot Interval, excludeID string) (bool, error) {
	if weekday < 0 || weekday > 6 {
		return false, ErrInvalidWeekday
	}
	existing, err := s.bookings.ListForRoomDay(ctx, roomID, weekday, excludeID)
	if err != nil {
		return false, err
	}
	for _, b := range existing {
		if slot.Overlaps(b.Slot) {
			return false, nil
		}
	}
	return true, nil
}

// SuggestRooms returns every room free for the slot, ranked for the section:
// fitting rooms first, then by capacity ascending so the tightest reasonable
// fit wins, then by room name for a reproducible order. Undersized rooms are
// included and labeled, unavailable rooms are dropped silently.
func (s *Service) SuggestRooms(ctx context.Context, sectionID string, weekday int, slot Interval, excludeID string) ([]Suggestion, error) {
	if weekday < 0 || weekday > 6 {
		return nil, ErrInvalidWeekday
	}
	groupSize, err := s.roster.CountStudents(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	rooms, err := s.rooms.List(ctx)
	if err != nil {
		return nil, err
	}

	suggestions := make([]Suggestion, 0, len(rooms))
	for _, room := range rooms {
		free, err := s.IsAvailable(ctx, room.ID, weekday, slot, excludeID)
		if err != nil {
			return nil, err
		}
		if !free {
			continue
		}
		fits := room.Capacity >= groupSize
		reason := ReasonUndersized
		if fits {
			if room.Capacity <= groupSize+fitMargin {
				reason = ReasonGoodFit
			} else {
				reason = ReasonOversized
			}
		}
		suggestions = append(suggestions, Suggestion{
			Room:      room,
			Capacity:  room.Capacity,
			GroupSize: groupSize,
			Fits:      fits,
			Reason:    reason,
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		a, b := suggestions[i], suggestions[j]
		if a.Fits != b.Fits {
			return a.Fits
		}
		if a.Capacity != b.Capacity {
			return a.Capacity < b.Capacity
		}
		return a.Room.Name < b.Room.Name
	})
	return suggestions, nil
}

// CreateBooking books a weekly slot after the conflict check passes.
func (s *Service) CreateBooking(ctx context.Context, sectionID, roomID string, weekday int, slot Interval) (Booking, error) {
	if _, err := NewInterval(slot.Start, slot.End); err != nil {
		return Booking{}, err
	}
	if _, err := s.rooms.Get(ctx, roomID); err != nil {
		return Booking{}, err
	}
	free, err := s.IsAvailable(ctx, roomID, weekday, slot, "")
	if err != nil {
		return Booking{}, err
	}
	if !free {
		metrics.BookingConflicts.Inc()
		return Booking{}, ErrRoomConflict
	}
	return s.bookings.Insert(ctx, Booking{
		SectionID: sectionID,
		RoomID:    roomID,
		Weekday:   weekday,
		Slot:      slot,
	})
}

// UpdateBooking moves an existing booking to a new room or slot, re-validating
// the conflict check with the booking itself excluded.
func (s *Service) UpdateBooking(ctx context.Context, bookingID, roomID string, weekday int, slot Interval) (Booking, error) {
	if _, err := NewInterval(slot.Start, slot.End); err != nil {
		return Booking{}, err
	}
	current, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return Booking{}, err
	}
	if _, err := s.rooms.Get(ctx, roomID); err != nil {
		return Booking{}, err
	}
	free, err := s.IsAvailable(ctx, roomID, weekday, slot, bookingID)
	if err != nil {
		return Booking{}, err
	}
	if !free {
		metrics.BookingConflicts.Inc()
		return Booking{}, ErrRoomConflict
	}
	current.RoomID = roomID
	current.Weekday = weekday
	current.Slot = slot
	if err := s.bookings.Update(ctx, current); err != nil {
		return Booking{}, err
	}
	return current, nil
}
