// Package types defines shared data structures used across all packages.
//
// This is the common vocabulary for the collector — market metadata,
// time-series records, and analytics outputs. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of a trade: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// SignalType enumerates the kinds of trading signal the analytics layer emits.
type SignalType string

const (
	SignalSameEvent     SignalType = "same_event"
	SignalMeanReversion SignalType = "mean_reversion"
	SignalSpread        SignalType = "spread"
)

// Direction is the recommendation carried by a MarketSignal.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// Market is a prediction-market contract keyed by its condition ID. Outcomes
// and TokenIDs are index-aligned; index 0 is the YES outcome by convention.
type Market struct {
	ConditionID string    // unique key, opaque venue identifier
	Question    string    // the prediction question
	Slug        string    // URL slug, used to infer event grouping
	MarketType  string    // venue-reported market type tag
	Outcomes    []string  // ordered outcome labels, e.g. ["Yes", "No"]
	TokenIDs    []string  // ordered token IDs, index-aligned with Outcomes
	Active      bool      // market is live
	Closed      bool      // market has resolved
	EndDate     string    // venue-reported end date, raw string (format varies)
	CreatedAt   time.Time // first-sighting timestamp (set by the store on insert)
	UpdatedAt   time.Time // last-upsert timestamp
}

// ————————————————————————————————————————————————————————————————————————
// Time-series records
// ————————————————————————————————————————————————————————————————————————

// PriceSnapshot is one per-token price observation. Append-only.
type PriceSnapshot struct {
	Timestamp time.Time
	TokenID   string
	Price     float64 // in [0, 1]
	Volume24h float64 // trailing 24h USD volume, 0 if unknown
}

// OrderbookLevel is a single price/size pair within a book side.
type OrderbookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderbookSnapshot is one per-token order-book observation. Bids are ordered
// descending by price, asks ascending. Spread and Midpoint are nil when
// either side is empty.
type OrderbookSnapshot struct {
	Timestamp time.Time
	TokenID   string
	Bids      []OrderbookLevel
	Asks      []OrderbookLevel
	Spread    *float64
	Midpoint  *float64
}

// Trade is one executed trade, either from a poll or the WS stream.
// TradeID is absent (empty string) for all stream-sourced trades.
type Trade struct {
	Timestamp time.Time
	TokenID   string
	Side      Side
	Price     float64
	Size      float64
	TradeID   string // empty when the venue doesn't report one
}

// Resolution records the outcome of a resolved market. At most one per
// ConditionID.
type Resolution struct {
	ConditionID     string
	Outcome         string // winning outcome label
	WinnerTokenID   string
	PayoutPrice     float64 // 1.0 on resolution
	DetectionMethod string  // e.g. "polling"
	ResolvedAt      time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Analytics
// ————————————————————————————————————————————————————————————————————————

// MarketGroup is a set of markets sharing the same event-slug prefix.
type MarketGroup struct {
	SlugPrefix   string
	ConditionIDs []string
	TokenIDs     []string
}

// Mispricing is a detected sum-to-one deviation across a MarketGroup's YES
// tokens.
type Mispricing struct {
	ConditionIDs        []string
	YesSum               float64
	Deviation            float64
	UnderpricedTokenIDs []string
	OverpricedTokenIDs  []string
}

// CorrelatedPair is one entry of find_correlated_pairs' output.
type CorrelatedPair struct {
	TokenA      string
	TokenB      string
	Correlation float64
}

// MarketSignal is one actionable observation produced by the signal
// generators. Every instance must satisfy: SignalType is one of the three
// known kinds, Direction is buy or sell, 0 <= Strength <= 1, EdgePct >= 0,
// and TokenID/MarketID are non-empty.
type MarketSignal struct {
	MarketID   string
	SignalType SignalType
	Direction  Direction
	Strength   float64
	EdgePct    float64
	TokenID    string
	Timestamp  time.Time
}

// MarketFeatures bundles the five per-token feature queries for one market's
// tokens, keyed by token ID.
type MarketFeatures struct {
	ConditionID string
	Tokens      map[string]TokenFeatures
}

// TokenFeatures is the per-token feature bundle returned by C11.
type TokenFeatures struct {
	Returns           []PriceReturn
	RollingVolatility *float64
	SpreadHistory     []SpreadPoint
	Imbalance         *float64
	VolumeProfile     VolumeProfile
}

// PriceReturn is one bucketed percent-return observation.
type PriceReturn struct {
	Bucket    time.Time
	ReturnPct float64
}

// SpreadPoint is one (timestamp, spread, midpoint) observation.
type SpreadPoint struct {
	Timestamp time.Time
	Spread    float64
	Midpoint  float64
}

// VolumeProfile sums BUY/SELL trade sizes and counts over a window.
type VolumeProfile struct {
	BuyVolume  float64
	SellVolume float64
	TradeCount int
}
