package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product listing statuses.
const (
	ProductStatusPending   = "pending"
	ProductStatusApproved  = "approved"
	ProductStatusSold      = "sold"
	ProductStatusCancelled = "cancelled"
)

// Dutch-auction price decrement intervals.
const (
	IntervalMinute = "minute"
	IntervalHour   = "hour"
	IntervalDay    = "day"
	IntervalWeek   = "week"
	IntervalMonth  = "month"
)

type Product struct {
	ID            uuid.UUID       `json:"id"`
	SellerID      uuid.UUID       `json:"seller_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Status        string          `json:"status"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	// ReservePrice of zero means "no reserve": the price floor is 1, not 0.
	ReservePrice           decimal.Decimal `json:"reserve_price"`
	PriceDecrement         decimal.Decimal `json:"price_decrement"`
	PriceDecrementInterval string          `json:"price_decrement_interval"`
	AuctionEndTime         time.Time       `json:"auction_end_time"`
	// ApprovalTime is the effective auction start; nil until an admin approves.
	ApprovalTime *time.Time `json:"approval_time,omitempty"`
	// CurrentPrice is a display cache refreshed by a background job. It is
	// never authoritative; the price is always recomputable from parameters.
	CurrentPrice *decimal.Decimal `json:"current_price,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// NoReserve reports whether the product was listed without a reserve price.
func (p *Product) NoReserve() bool {
	return p.ReservePrice.IsZero()
}
