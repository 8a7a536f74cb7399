package auction

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aibazaar/backend/internal/models"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func params(start, reserve, decr int64, interval string, createdAt time.Time) PriceParams {
	return PriceParams{
		StartingPrice: dec(start),
		ReservePrice:  dec(reserve),
		Decrement:     dec(decr),
		Interval:      interval,
		CreatedAt:     createdAt,
	}
}

// ---------------------------------------------------------------------------
// CurrentPrice
// ---------------------------------------------------------------------------

func TestCurrentPrice_DailyDecay(t *testing.T) {
	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := params(1000, 400, 50, models.IntervalDay, createdAt)

	// 3 full days elapsed: 1000 - 3*50 = 850.
	now := createdAt.Add(3 * 24 * time.Hour)
	if got := CurrentPrice(p, now); !got.Equal(dec(850)) {
		t.Errorf("price after 3 days: got %s, want 850", got)
	}

	// Partial interval does not count: 3 days 23 hours is still 850.
	now = createdAt.Add(3*24*time.Hour + 23*time.Hour)
	if got := CurrentPrice(p, now); !got.Equal(dec(850)) {
		t.Errorf("price mid-interval: got %s, want 850", got)
	}
}

func TestCurrentPrice_ReserveFloor(t *testing.T) {
	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := params(1000, 400, 50, models.IntervalDay, createdAt)

	// Far past the point where raw price would undercut the reserve.
	now := createdAt.Add(100 * 24 * time.Hour)
	if got := CurrentPrice(p, now); !got.Equal(dec(400)) {
		t.Errorf("price should floor at reserve: got %s, want 400", got)
	}
}

func TestCurrentPrice_NoReserveFloorsAtOne(t *testing.T) {
	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := params(100, 0, 30, models.IntervalDay, createdAt)

	// Raw price 100 - 10*30 = -200; no-reserve floor is 1, never 0.
	now := createdAt.Add(10 * 24 * time.Hour)
	if got := CurrentPrice(p, now); !got.Equal(dec(1)) {
		t.Errorf("no-reserve floor: got %s, want 1", got)
	}
}

func TestCurrentPrice_BeforeApproval(t *testing.T) {
	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	approval := createdAt.Add(48 * time.Hour)
	p := params(500, 100, 25, models.IntervalHour, createdAt)
	p.ApprovalTime = &approval

	// Decay runs from approval, not listing creation.
	if got := CurrentPrice(p, createdAt.Add(24*time.Hour)); !got.Equal(dec(500)) {
		t.Errorf("price before approval: got %s, want 500", got)
	}
	if got := CurrentPrice(p, approval.Add(2*time.Hour)); !got.Equal(dec(450)) {
		t.Errorf("price 2h after approval: got %s, want 450", got)
	}
}

func TestCurrentPrice_UnknownIntervalDefaultsToHour(t *testing.T) {
	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := params(100, 10, 5, "fortnight", createdAt)

	if got := CurrentPrice(p, createdAt.Add(3*time.Hour)); !got.Equal(dec(85)) {
		t.Errorf("unknown interval should decay hourly: got %s, want 85", got)
	}
}

func TestCurrentPrice_MonotonicNonIncreasing(t *testing.T) {
	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := params(997, 13, 7, models.IntervalHour, createdAt)

	prev := CurrentPrice(p, createdAt)
	if !prev.Equal(dec(997)) {
		t.Fatalf("price at start: got %s, want 997", prev)
	}
	floor := p.Floor()
	for h := 1; h <= 400; h++ {
		cur := CurrentPrice(p, createdAt.Add(time.Duration(h)*time.Hour))
		if cur.GreaterThan(prev) {
			t.Fatalf("price increased at hour %d: %s -> %s", h, prev, cur)
		}
		if cur.LessThan(floor) {
			t.Fatalf("price below floor at hour %d: %s < %s", h, cur, floor)
		}
		prev = cur
	}
	if !prev.Equal(floor) {
		t.Errorf("price after long decay: got %s, want floor %s", prev, floor)
	}
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := createdAt.Add(30 * 24 * time.Hour)

	cases := []struct {
		name    string
		mutate  func(*PriceParams)
		endTime time.Time
		wantErr bool
	}{
		{"valid", func(*PriceParams) {}, end, false},
		{"zero starting price", func(p *PriceParams) { p.StartingPrice = dec(0) }, end, true},
		{"negative starting price", func(p *PriceParams) { p.StartingPrice = dec(-5) }, end, true},
		{"negative decrement", func(p *PriceParams) { p.Decrement = dec(-1) }, end, true},
		{"negative reserve", func(p *PriceParams) { p.ReservePrice = dec(-1) }, end, true},
		{"reserve above start", func(p *PriceParams) { p.ReservePrice = dec(2000) }, end, true},
		{"unknown interval", func(p *PriceParams) { p.Interval = "decade" }, end, true},
		{"end before start", func(*PriceParams) {}, createdAt.Add(-time.Hour), true},
		{"no reserve is fine", func(p *PriceParams) { p.ReservePrice = dec(0) }, end, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := params(1000, 400, 50, models.IntervalDay, createdAt)
			tc.mutate(&p)
			err := Validate(p, tc.endTime)
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// ReserveMet
// ---------------------------------------------------------------------------

func TestReserveMet(t *testing.T) {
	cases := []struct {
		name      string
		bid       int64
		reserve   int64
		noReserve bool
		want      bool
	}{
		{"at reserve", 400, 400, false, true},
		{"above reserve", 500, 400, false, true},
		{"below reserve", 399, 400, false, false},
		{"no-reserve flag", 1, 400, true, true},
		{"zero reserve", 1, 0, false, true},
		{"zero bid never qualifies", 0, 0, true, false},
		{"negative bid never qualifies", -10, 0, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ReserveMet(dec(tc.bid), dec(tc.reserve), tc.noReserve); got != tc.want {
				t.Errorf("ReserveMet(%d, %d, %v) = %v, want %v", tc.bid, tc.reserve, tc.noReserve, got, tc.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// RecommendedDecrement
// ---------------------------------------------------------------------------

func TestRecommendedDecrement(t *testing.T) {
	// 30 days of daily decay over a 600 spread: 600/30 = 20 per day.
	if got := RecommendedDecrement(dec(1000), dec(400), 30, models.IntervalDay); !got.Equal(dec(20)) {
		t.Errorf("daily over 30d: got %s, want 20", got)
	}
	// Tiny spread still recommends at least 1.
	if got := RecommendedDecrement(dec(10), dec(9), 90, models.IntervalDay); !got.Equal(dec(1)) {
		t.Errorf("min decrement: got %s, want 1", got)
	}
	// Zero or inverted spread recommends 1.
	if got := RecommendedDecrement(dec(100), dec(100), 14, models.IntervalHour); !got.Equal(dec(1)) {
		t.Errorf("zero spread: got %s, want 1", got)
	}
}
