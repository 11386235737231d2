// Package upstream implements the Polymarket Gamma/CLOB REST adapter and the
// CLOB WebSocket trade feed. It is a typed, rate-limited, retried client —
// every request goes through the shared ratelimit.Set and retry.Policy
// rather than rolling its own backoff.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-collector/internal/config"
	"polymarket-collector/internal/ratelimit"
	"polymarket-collector/internal/retry"
)

// Client is the Polymarket Gamma/CLOB REST API client used by the
// collectors. It never signs or places orders — this is a read-only data
// adapter.
type Client struct {
	http     *resty.Client
	clobHost string
	limits   *ratelimit.Set
	policy   retry.Policy
	logger   *slog.Logger
}

// NewClient creates a REST client bound to the configured Gamma host; order
// books are fetched from the configured CLOB host.
func NewClient(cfg config.PolymarketConfig, limits *ratelimit.Set, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.GammaHost).
		SetTimeout(30 * time.Second).
		SetHeader("User-Agent", "polymarket-collector/1.0").
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:     httpClient,
		clobHost: cfg.CLOBHost,
		limits:   limits,
		policy:   retry.DefaultPolicy(),
		logger:   logger,
	}
}

// Close releases idle connections held by the underlying HTTP client.
func (c *Client) Close() error {
	c.http.GetClient().CloseIdleConnections()
	return nil
}

// RawEvent is a Gamma API event: a grouping of one or more related markets
// (e.g. "Who wins the election?" groups one market per candidate).
type RawEvent struct {
	ID      string      `json:"id"`
	Slug    string      `json:"slug"`
	Markets []RawMarket `json:"markets"`
}

// RawMarket is a single Gamma API market object, decoded defensively: Gamma
// represents clobTokenIds/outcomes/outcomePrices as stringified JSON on some
// endpoints and native arrays on others.
type RawMarket struct {
	ConditionID  string          `json:"conditionId"`
	Question     string          `json:"question"`
	Slug         string          `json:"slug"`
	MarketType   string          `json:"marketType"`
	Active       *bool           `json:"active"`
	Closed       *bool           `json:"closed"`
	EndDateISO   string          `json:"endDateIso"`
	ClobTokenIDs json.RawMessage `json:"clobTokenIds"`
	Outcomes     json.RawMessage `json:"outcomes"`
	OutcomePrice json.RawMessage `json:"outcomePrices"`
	Volume24hr   json.Number     `json:"volume24hr"`
}

// Volume24h returns the market's 24h volume, defaulting to 0 when absent or
// unparsable.
func (m RawMarket) Volume24h() float64 {
	if m.Volume24hr == "" {
		return 0
	}
	v, err := m.Volume24hr.Float64()
	if err != nil {
		return 0
	}
	return v
}

// IsActive reports the market's active flag, defaulting to true when Gamma
// omits the field.
func (m RawMarket) IsActive() bool {
	if m.Active == nil {
		return true
	}
	return *m.Active
}

// IsClosed reports the market's closed flag, defaulting to false when Gamma
// omits the field.
func (m RawMarket) IsClosed() bool {
	if m.Closed == nil {
		return false
	}
	return *m.Closed
}

// TokenIDs returns the market's CLOB token ids, parsed defensively from
// either a stringified JSON array or a native array.
func (m RawMarket) TokenIDs() []string { return ParseStringOrArray(m.ClobTokenIDs) }

// OutcomeLabels returns the market's outcome labels, parsed defensively.
func (m RawMarket) OutcomeLabels() []string { return ParseStringOrArray(m.Outcomes) }

// OutcomePrices returns the market's outcome prices, parsed defensively.
func (m RawMarket) OutcomePrices() []string { return ParseStringOrArray(m.OutcomePrice) }

// ParseStringOrArray decodes a Gamma field that may arrive as a native JSON
// array or as a JSON string containing an encoded JSON array. An absent field
// or any decode failure returns nil rather than an error — Gamma's schema is
// inconsistent across endpoints and a malformed field on one market must not
// abort the whole page.
func ParseStringOrArray(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(encoded), &arr); err != nil {
		return nil
	}
	return arr
}

type eventsPage struct {
	events []RawEvent
}

// UnmarshalJSON accepts both a bare array of events and an object wrapping
// them under a "data" key, matching Gamma's inconsistent response shapes.
func (p *eventsPage) UnmarshalJSON(data []byte) error {
	var asArray []RawEvent
	if err := json.Unmarshal(data, &asArray); err == nil {
		p.events = asArray
		return nil
	}

	var wrapped struct {
		Data []RawEvent `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return fmt.Errorf("decode events page: %w", err)
	}
	p.events = wrapped.Data
	return nil
}

// GetEvents fetches one page of events from the Gamma API, ordered by
// volume descending.
func (c *Client) GetEvents(ctx context.Context, active bool, limit, offset int) ([]RawEvent, error) {
	if err := c.limits.Metadata.Acquire(ctx); err != nil {
		return nil, err
	}

	var page eventsPage
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"active":    boolString(active),
				"limit":     fmt.Sprintf("%d", limit),
				"offset":    fmt.Sprintf("%d", offset),
				"order":     "volume",
				"ascending": "false",
			}).
			Get("/events")
		if err != nil {
			return err
		}
		c.limits.Metadata.RecordResponse(resp.StatusCode(), resp.Header().Get("Retry-After"))
		if resp.StatusCode() != http.StatusOK {
			return &retry.StatusError{Code: resp.StatusCode()}
		}
		return page.UnmarshalJSON(resp.Body())
	})
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	return page.events, nil
}

// GetClosedEvents fetches one page of closed events, used by the resolution
// collector to find markets that have settled upstream.
func (c *Client) GetClosedEvents(ctx context.Context, limit, offset int) ([]RawEvent, error) {
	if err := c.limits.Metadata.Acquire(ctx); err != nil {
		return nil, err
	}

	var page eventsPage
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"closed": "true",
				"limit":  fmt.Sprintf("%d", limit),
				"offset": fmt.Sprintf("%d", offset),
			}).
			Get("/events")
		if err != nil {
			return err
		}
		c.limits.Metadata.RecordResponse(resp.StatusCode(), resp.Header().Get("Retry-After"))
		if resp.StatusCode() != http.StatusOK {
			return &retry.StatusError{Code: resp.StatusCode()}
		}
		return page.UnmarshalJSON(resp.Body())
	})
	if err != nil {
		return nil, fmt.Errorf("get closed events: %w", err)
	}
	return page.events, nil
}

// GetAllActiveMarkets paginates Gamma events at limit=100, pausing 100ms
// between pages, stopping when a page comes back short or maxEvents (if
// positive) is reached.
func (c *Client) GetAllActiveMarkets(ctx context.Context, maxEvents int) ([]RawEvent, error) {
	const pageSize = 100
	var all []RawEvent
	offset := 0

	for {
		events, err := c.GetEvents(ctx, true, pageSize, offset)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			break
		}

		all = append(all, events...)
		offset += pageSize

		if maxEvents > 0 && len(all) >= maxEvents {
			all = all[:maxEvents]
			break
		}
		if len(events) < pageSize {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	return all, nil
}

// OrderbookResponse is a single token's L2 order book as returned by the
// CLOB REST API.
type OrderbookResponse struct {
	Market string           `json:"market"`
	AssetID string          `json:"asset_id"`
	Bids    []OrderbookSide `json:"bids"`
	Asks    []OrderbookSide `json:"asks"`
}

// OrderbookSide is a single price/size level.
type OrderbookSide struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// orderbookChunkSize bounds how many token ids are requested per CLOB batch
// call — the upstream endpoint itself does not document a hard cap, but the
// collector chunks conservatively to keep individual requests small and
// retry-friendly.
const orderbookChunkSize = 20

// GetOrderbooks fetches order books for a batch of token ids, chunked at
// orderbookChunkSize requests.
func (c *Client) GetOrderbooks(ctx context.Context, tokenIDs []string) ([]OrderbookResponse, error) {
	var out []OrderbookResponse
	for start := 0; start < len(tokenIDs); start += orderbookChunkSize {
		end := start + orderbookChunkSize
		if end > len(tokenIDs) {
			end = len(tokenIDs)
		}
		chunk := tokenIDs[start:end]

		if err := c.limits.Read.Acquire(ctx); err != nil {
			return nil, err
		}

		params := make([]map[string]string, len(chunk))
		for i, id := range chunk {
			params[i] = map[string]string{"token_id": id}
		}

		var results []OrderbookResponse
		err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
			resp, err := c.http.R().
				SetContext(ctx).
				SetBody(params).
				SetResult(&results).
				Post(c.clobHost + "/books")
			if err != nil {
				return err
			}
			c.limits.Read.RecordResponse(resp.StatusCode(), resp.Header().Get("Retry-After"))
			if resp.StatusCode() != http.StatusOK {
				return &retry.StatusError{Code: resp.StatusCode()}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("get orderbooks chunk starting at %d: %w", start, err)
		}
		out = append(out, results...)
	}
	return out, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
