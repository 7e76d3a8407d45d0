// Package pricing implements deterministic price formation for the
// synthetic symbols: price is a pure function of the full trade ledger,
// a per-symbol sensitivity coefficient, and the configured base price.
//
//	price = max(1, round(base + coefficient × (Σ buyQty − Σ sellQty)))
//
// There are no running accumulators; every quote is recomputed from the
// ledger, so replaying the same ledger always yields the same price
// regardless of call order or caching. Coefficient math uses
// shopspring/decimal — never float64 for money.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/uenogami/stock-trading-game/internal/model"
)

const (
	// DefaultBasePrice is used when a symbol has no configured base price.
	DefaultBasePrice = 100

	// FloorPrice is the lowest possible quote; sell pressure can never
	// push a symbol below it.
	FloorPrice = 1
)

// Point is one checkpoint of the derived price series.
type Point struct {
	Minute int   `json:"minute"`
	Price  int64 `json:"price"`
}

// NetDemand returns Σ buyQty − Σ sellQty over the given trades.
func NetDemand(trades []model.Trade) int64 {
	var net int64
	for _, t := range trades {
		switch t.Side {
		case model.SideBuy:
			net += t.Quantity
		case model.SideSell:
			net -= t.Quantity
		}
	}
	return net
}

// Volume returns the cumulative traded quantity regardless of side.
func Volume(trades []model.Trade) int64 {
	var v int64
	for _, t := range trades {
		v += t.Quantity
	}
	return v
}

// PriceFor evaluates the pricing rule at a given net demand.
func PriceFor(basePrice int64, coefficient decimal.Decimal, netDemand int64) int64 {
	if basePrice <= 0 {
		basePrice = DefaultBasePrice
	}
	price := decimal.NewFromInt(basePrice).
		Add(coefficient.Mul(decimal.NewFromInt(netDemand))).
		Round(0).
		IntPart()
	if price < FloorPrice {
		return FloorPrice
	}
	return price
}

// Quote computes the current price for a symbol from its entire ledger.
func Quote(basePrice int64, coefficient decimal.Decimal, trades []model.Trade) int64 {
	return PriceFor(basePrice, coefficient, NetDemand(trades))
}

// Series re-walks the ledger and evaluates the cumulative price at each
// one-minute checkpoint from session start through the session duration.
// The final checkpoint is reconciled to the authoritative current quote
// so the series tail never drifts from the live value.
//
// An empty ledger yields a flat line at the base price.
func Series(basePrice int64, coefficient decimal.Decimal, trades []model.Trade, sessionStart time.Time, duration time.Duration) []Point {
	minutes := int(duration / time.Minute)
	points := make([]Point, 0, minutes+1)

	if len(trades) == 0 {
		flat := PriceFor(basePrice, coefficient, 0)
		for m := 0; m <= minutes; m++ {
			points = append(points, Point{Minute: m, Price: flat})
		}
		return points
	}

	// Minute offset of each trade relative to session start. Trades with
	// a negative offset (clock skew) count from minute 0, as does the
	// whole ledger when the session-start reading has not caught up yet.
	offsets := make([]int, len(trades))
	for i, t := range trades {
		m := 0
		if !sessionStart.IsZero() {
			m = int(t.CreatedAt.Sub(sessionStart) / time.Minute)
			if m < 0 {
				m = 0
			}
		}
		offsets[i] = m
	}

	for m := 0; m <= minutes; m++ {
		var net int64
		for i, t := range trades {
			if offsets[i] > m {
				continue
			}
			if t.Side == model.SideBuy {
				net += t.Quantity
			} else {
				net -= t.Quantity
			}
		}
		points = append(points, Point{Minute: m, Price: PriceFor(basePrice, coefficient, net)})
	}

	points[len(points)-1].Price = Quote(basePrice, coefficient, trades)
	return points
}

// ChangeRate returns the percentage change of price versus the base
// price, rounded to one decimal place.
func ChangeRate(basePrice, price int64) decimal.Decimal {
	if basePrice <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(price - basePrice).
		Div(decimal.NewFromInt(basePrice)).
		Mul(decimal.NewFromInt(100)).
		Round(1)
}
