package models

import "time"

// Rental is the unit being paid for. Created by the booking flow in pending
// state and mutated exclusively by the reconciler afterwards.
type Rental struct {
	ID               string     `json:"id"`
	VehicleID        int64      `json:"vehicle_id"`
	ShopID           int64      `json:"shop_id"`
	UserID           string     `json:"user_id,omitempty"` // empty for guest bookings
	StartDate        time.Time  `json:"start_date"`
	EndDate          time.Time  `json:"end_date"`
	TotalPrice       float64    `json:"total_price"`
	DepositRequired  bool       `json:"deposit_required"`
	DepositAmount    float64    `json:"deposit_amount"`
	DepositPaid      bool       `json:"deposit_paid"`
	DepositProcessed bool       `json:"deposit_processed"`
	PaymentStatus    string     `json:"payment_status"` // pending, paid, failed, cancelled
	Status           string     `json:"status"`
	PaymentDate      *time.Time `json:"payment_date,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Vehicle is a catalog entry loaded from the vehicles config. The blocker
// refuses to block dates for vehicles it does not know about.
type Vehicle struct {
	ID       int64  `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	ShopID   int64  `json:"shop_id" yaml:"shop_id"`
	IsActive bool   `json:"is_active" yaml:"is_active"`
}

// Shop is a catalog entry for the rental shop that owns vehicles. Payout
// preconditions require the owner's payout details to be resolvable.
type Shop struct {
	ID            int64  `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	OwnerName     string `json:"owner_name" yaml:"owner_name"`
	PayoutMethod  string `json:"payout_method" yaml:"payout_method"`
	PayoutAccount string `json:"payout_account" yaml:"payout_account"`
}

// BlockedDate marks one calendar day unavailable for a vehicle.
type BlockedDate struct {
	ID        int64     `json:"id"`
	VehicleID int64     `json:"vehicle_id"`
	Date      time.Time `json:"date"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryEntry is an append-only audit record. Never mutated or deleted.
type HistoryEntry struct {
	ID        string    `json:"id"`
	RentalID  string    `json:"rental_id"`
	EventType string    `json:"event_type"`
	Status    string    `json:"status"`
	Notes     string    `json:"notes"`
	ActorID   string    `json:"actor_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Payout records an admin-initiated deposit payout obligation. Money movement
// happens downstream; this row is the source of truth that it is owed.
type Payout struct {
	ID          string     `json:"id"`
	RentalID    string     `json:"rental_id"`
	ShopID      int64      `json:"shop_id"`
	Amount      float64    `json:"amount"`
	Status      string     `json:"status"`
	Reason      string     `json:"reason"`
	ProcessedBy string     `json:"processed_by"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}
