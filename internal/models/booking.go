package models

import "time"

type Booking struct {
	ID           string    `json:"id"`
	PropertyID   string    `json:"property_id"`
	PropertyName string    `json:"property_name"`
	GuestName    string    `json:"guest_name"`
	CheckIn      time.Time `json:"check_in"`
	CheckOut     time.Time `json:"check_out"`
	Status       string    `json:"status"` // confirmed, checked_out, ready
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Property struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Blocked   bool      `json:"blocked"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BookingConfirmed is the event that starts a turnover timeline.
type BookingConfirmed struct {
	BookingID       string    `json:"bookingId"`
	PropertyID      string    `json:"propertyId"`
	PropertyName    string    `json:"propertyName"`
	PropertyAddress string    `json:"propertyAddress,omitempty"`
	GuestName       string    `json:"guestName"`
	CheckInDate     time.Time `json:"checkInDate"`
	CheckOutDate    time.Time `json:"checkOutDate"`
}
