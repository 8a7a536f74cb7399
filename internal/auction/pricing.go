// Package auction computes Dutch-auction prices. The current price is a pure
// function of the listing parameters and the clock, so it is safe to
// recompute on every read; the cached column on products is display-only.
package auction

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aibazaar/backend/internal/models"
)

// ErrInvalidParams is returned by Validate for out-of-range listing inputs.
var ErrInvalidParams = errors.New("invalid auction parameters")

// Interval durations. Week and month are fixed approximations (7 and 30
// days), not calendar-accurate.
var intervalDurations = map[string]time.Duration{
	models.IntervalMinute: time.Minute,
	models.IntervalHour:   time.Hour,
	models.IntervalDay:    24 * time.Hour,
	models.IntervalWeek:   7 * 24 * time.Hour,
	models.IntervalMonth:  30 * 24 * time.Hour,
}

// IntervalDuration maps an interval name to its duration. Unrecognized
// intervals decay hourly; that is the canonical default, not an error.
func IntervalDuration(interval string) time.Duration {
	if d, ok := intervalDurations[interval]; ok {
		return d
	}
	return time.Hour
}

// PriceParams is the auction-relevant subset of a product listing.
type PriceParams struct {
	StartingPrice decimal.Decimal
	ReservePrice  decimal.Decimal // zero means no reserve (floor 1)
	Decrement     decimal.Decimal
	Interval      string
	CreatedAt     time.Time
	ApprovalTime  *time.Time // effective auction start when set
}

// ParamsFor extracts PriceParams from a product.
func ParamsFor(p *models.Product) PriceParams {
	return PriceParams{
		StartingPrice: p.StartingPrice,
		ReservePrice:  p.ReservePrice,
		Decrement:     p.PriceDecrement,
		Interval:      p.PriceDecrementInterval,
		CreatedAt:     p.CreatedAt,
		ApprovalTime:  p.ApprovalTime,
	}
}

// Floor returns the lowest price the auction may reach: the reserve price if
// one is set, otherwise 1. The price never reaches zero.
func (p PriceParams) Floor() decimal.Decimal {
	if p.ReservePrice.IsPositive() {
		return p.ReservePrice
	}
	return decimal.NewFromInt(1)
}

// CurrentPrice computes the price as of now. The price starts at
// StartingPrice, drops by Decrement once per elapsed interval, and is
// clamped to [Floor, StartingPrice].
func CurrentPrice(p PriceParams, now time.Time) decimal.Decimal {
	start := p.CreatedAt
	if p.ApprovalTime != nil {
		start = *p.ApprovalTime
	}
	elapsed := now.Sub(start)
	if elapsed < 0 {
		return p.StartingPrice
	}
	intervals := int64(elapsed / IntervalDuration(p.Interval))
	raw := p.StartingPrice.Sub(p.Decrement.Mul(decimal.NewFromInt(intervals)))
	if floor := p.Floor(); raw.LessThan(floor) {
		return floor
	}
	if raw.GreaterThan(p.StartingPrice) {
		return p.StartingPrice
	}
	return raw
}

// Validate rejects listings that would decay to nonsense. Called at listing
// creation; the read path never errors and falls back to hourly decay.
func Validate(p PriceParams, endTime time.Time) error {
	if !p.StartingPrice.IsPositive() {
		return fmt.Errorf("%w: starting price must be positive", ErrInvalidParams)
	}
	if p.Decrement.IsNegative() {
		return fmt.Errorf("%w: decrement must not be negative", ErrInvalidParams)
	}
	if p.ReservePrice.IsNegative() {
		return fmt.Errorf("%w: reserve price must not be negative", ErrInvalidParams)
	}
	if p.ReservePrice.GreaterThan(p.StartingPrice) {
		return fmt.Errorf("%w: reserve price exceeds starting price", ErrInvalidParams)
	}
	if _, ok := intervalDurations[p.Interval]; !ok {
		return fmt.Errorf("%w: unknown decrement interval %q", ErrInvalidParams, p.Interval)
	}
	if !endTime.After(p.CreatedAt) {
		return fmt.Errorf("%w: auction end time must be in the future", ErrInvalidParams)
	}
	return nil
}

// ReserveMet reports whether a bid satisfies the reserve. Any positive bid
// qualifies on a no-reserve auction.
func ReserveMet(bidAmount, reservePrice decimal.Decimal, noReserve bool) bool {
	if !bidAmount.IsPositive() {
		return false
	}
	if noReserve || !reservePrice.IsPositive() {
		return true
	}
	return bidAmount.GreaterThanOrEqual(reservePrice)
}

// RecommendedDecrement suggests a per-interval decrement that walks the
// price from starting to reserve over the intended duration. Advisory only;
// sellers can override. Minimum 1.
func RecommendedDecrement(startingPrice, reservePrice decimal.Decimal, durationDays int, interval string) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if durationDays <= 0 {
		return one
	}
	total := time.Duration(durationDays) * 24 * time.Hour
	intervals := int64(total / IntervalDuration(interval))
	if intervals <= 0 {
		return one
	}
	spread := startingPrice.Sub(reservePrice)
	if !spread.IsPositive() {
		return one
	}
	rec := spread.Div(decimal.NewFromInt(intervals)).Round(0)
	if rec.LessThan(one) {
		return one
	}
	return rec
}
