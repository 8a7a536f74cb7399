package services

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Fee tiers. Both fees are percentages of the agreed amount, rounded to two
// decimals. The asymmetry matters: the buyer pays amount + escrow fee, while
// the platform fee comes out of the seller's proceeds.
var (
	platformFeeTiers = []feeTier{
		{ceiling: decimal.NewFromInt(10000), rate: decimal.NewFromFloat(0.10)},
		{ceiling: decimal.NewFromInt(50000), rate: decimal.NewFromFloat(0.08)},
		{ceiling: decimal.NewFromInt(100000), rate: decimal.NewFromFloat(0.06)},
	}
	platformFeeTopRate = decimal.NewFromFloat(0.05)

	escrowFeeTiers = []feeTier{
		{ceiling: decimal.NewFromInt(5000), rate: decimal.NewFromFloat(0.035)},
		{ceiling: decimal.NewFromInt(25000), rate: decimal.NewFromFloat(0.032)},
		{ceiling: decimal.NewFromInt(100000), rate: decimal.NewFromFloat(0.029)},
	}
	escrowFeeTopRate = decimal.NewFromFloat(0.025)
)

type feeTier struct {
	ceiling decimal.Decimal
	rate    decimal.Decimal
}

func tieredFee(amount decimal.Decimal, tiers []feeTier, topRate decimal.Decimal) decimal.Decimal {
	rate := topRate
	for _, t := range tiers {
		if amount.LessThanOrEqual(t.ceiling) {
			rate = t.rate
			break
		}
	}
	return amount.Mul(rate).Round(2)
}

// PlatformFee is the marketplace operator's cut, deducted from the seller's
// proceeds.
func PlatformFee(amount decimal.Decimal) decimal.Decimal {
	return tieredFee(amount, platformFeeTiers, platformFeeTopRate)
}

// EscrowFee is the escrow service's estimated charge, added to the buyer's
// bill.
func EscrowFee(amount decimal.Decimal) decimal.Decimal {
	return tieredFee(amount, escrowFeeTiers, escrowFeeTopRate)
}

// FeeBreakdown is the full settlement math for an agreed amount.
type FeeBreakdown struct {
	Amount            decimal.Decimal `json:"amount"`
	PlatformFee       decimal.Decimal `json:"platform_fee"`
	EscrowFee         decimal.Decimal `json:"escrow_fee"`
	SellerReceives    decimal.Decimal `json:"seller_receives"`
	TotalDueFromBuyer decimal.Decimal `json:"total_due_from_buyer"`
}

// QuoteFees computes the breakdown for a positive amount.
func QuoteFees(amount decimal.Decimal) (FeeBreakdown, error) {
	if !amount.IsPositive() {
		return FeeBreakdown{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	platform := PlatformFee(amount)
	escrow := EscrowFee(amount)
	return FeeBreakdown{
		Amount:            amount,
		PlatformFee:       platform,
		EscrowFee:         escrow,
		SellerReceives:    amount.Sub(platform).Sub(escrow),
		TotalDueFromBuyer: amount.Add(escrow),
	}, nil
}
