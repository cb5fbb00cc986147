package schedule

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// BookingRepository implements BookingRepo over Postgres. Slots are stored as
// minutes since midnight.
type BookingRepository struct {
	db *sql.DB
}

// NewBookingRepository creates a booking repo.
func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// ListForRoomDay returns bookings for a room and weekday, minus excludeID.
func (r *BookingRepository) ListForRoomDay(ctx context.Context, roomID string, weekday int, excludeID string) ([]Booking, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, section_id, room_id, weekday, start_minute, end_minute
		FROM bookings
		WHERE room_id = $1 AND weekday = $2 AND ($3 = '' OR id <> $3)
		ORDER BY start_minute
	`, roomID, weekday, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// Get returns one booking by id.
func (r *BookingRepository) Get(ctx context.Context, id string) (Booking, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, section_id, room_id, weekday, start_minute, end_minute
		FROM bookings WHERE id = $1
	`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Booking{}, ErrBookingNotFound
	}
	return b, err
}

// Insert writes a new booking.
func (r *BookingRepository) Insert(ctx context.Context, b Booking) (Booking, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bookings (id, section_id, room_id, weekday, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, b.ID, b.SectionID, b.RoomID, b.Weekday, int(b.Slot.Start), int(b.Slot.End))
	if err != nil {
		return Booking{}, err
	}
	return b, nil
}

// Update rewrites an existing booking's room and slot.
func (r *BookingRepository) Update(ctx context.Context, b Booking) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE bookings
		SET room_id = $2, weekday = $3, start_minute = $4, end_minute = $5
		WHERE id = $1
	`, b.ID, b.RoomID, b.Weekday, int(b.Slot.Start), int(b.Slot.End))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrBookingNotFound
	}
	return nil
}

// RoomRepository implements the read-only RoomRepo lookup over Postgres.
type RoomRepository struct {
	db *sql.DB
}

// NewRoomRepository creates a room repo.
func NewRoomRepository(db *sql.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

// List returns all rooms ordered by block and name.
func (r *RoomRepository) List(ctx context.Context) ([]Room, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, block, capacity
		FROM rooms
		ORDER BY block, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var rm Room
		if err := rows.Scan(&rm.ID, &rm.Name, &rm.Block, &rm.Capacity); err != nil {
			return nil, err
		}
		rooms = append(rooms, rm)
	}
	return rooms, rows.Err()
}

// Get returns one room by id.
func (r *RoomRepository) Get(ctx context.Context, id string) (Room, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, block, capacity FROM rooms WHERE id = $1`, id)
	var rm Room
	err := row.Scan(&rm.ID, &rm.Name, &rm.Block, &rm.Capacity)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrRoomNotFound
	}
	return rm, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (Booking, error) {
	var b Booking
	var start, end int
	if err := row.Scan(&b.ID, &b.SectionID, &b.RoomID, &b.Weekday, &start, &end); err != nil {
		return Booking{}, err
	}
	b.Slot = Interval{Start: ClockMinutes(start), End: ClockMinutes(end)}
	return b, nil
}
