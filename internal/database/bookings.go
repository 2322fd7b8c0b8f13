package database

import (
	"context"

	"villaops/internal/models"
)

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	var checkIn, checkOut, createdAt, updatedAt string
	err := db.QueryRowContext(ctx, `SELECT id, property_id, property_name, guest_name, check_in,
			check_out, status, created_at, updated_at
		FROM bookings WHERE id = ?`, id).Scan(
		&b.ID, &b.PropertyID, &b.PropertyName, &b.GuestName, &checkIn,
		&checkOut, &b.Status, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, storeErr("get booking", err)
	}

	if b.CheckIn, err = parseTime(checkIn); err != nil {
		return nil, err
	}
	if b.CheckOut, err = parseTime(checkOut); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (db *DB) GetProperty(ctx context.Context, id string) (*models.Property, error) {
	var p models.Property
	var blocked int
	var updatedAt string
	err := db.QueryRowContext(ctx, `SELECT id, name, address, blocked, updated_at
		FROM properties WHERE id = ?`, id).Scan(&p.ID, &p.Name, &p.Address, &blocked, &updatedAt)
	if err != nil {
		return nil, storeErr("get property", err)
	}
	p.Blocked = blocked == 1
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
