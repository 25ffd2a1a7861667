// Package dataflows is the committee's market-data boundary. Agents see one
// narrow Provider interface; implementations cover live HTTP feeds, a
// governed wrapper that routes every call through the resource budgets and
// response cache, and a static in-process feed for offline runs and tests.
package dataflows

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quorumlabs/committee/internal/governor"
)

// Provider executes one opaque data call. The resource name selects both the
// upstream endpoint and, in the governed variant, the rate budget.
type Provider interface {
	Call(ctx context.Context, resource string, payload []byte) ([]byte, error)
}

// Resource names shared by providers and the rate-limiter configuration.
const (
	ResourceMarketData   = "market_data"
	ResourceFundamentals = "fundamentals"
	ResourceMacro        = "macro"
	ResourceSentiment    = "sentiment"
)

// Quote is a point-in-time market quote. Prices carry exact decimals; float
// rounding on money is not acceptable in reports.
type Quote struct {
	Ticker    string          `json:"ticker"`
	Price     decimal.Decimal `json:"price"`
	Change    decimal.Decimal `json:"change"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// Fundamentals is the slice of company financials the strategies score.
type Fundamentals struct {
	Ticker          string          `json:"ticker"`
	MarketCap       decimal.Decimal `json:"market_cap"`
	PERatio         float64         `json:"pe_ratio"`
	PBRatio         float64         `json:"pb_ratio"`
	DebtToEquity    float64         `json:"debt_to_equity"`
	ReturnOnEquity  float64         `json:"return_on_equity"`
	RevenueGrowth   float64         `json:"revenue_growth"`
	EarningsGrowth  float64         `json:"earnings_growth"`
	FreeCashFlow    decimal.Decimal `json:"free_cash_flow"`
	GrossMargin     float64         `json:"gross_margin"`
	OperatingMargin float64         `json:"operating_margin"`
	CurrentRatio    float64         `json:"current_ratio"`
	Beta            float64         `json:"beta"`
	AccrualRatio    float64         `json:"accrual_ratio"`
	AuditFlags      []string        `json:"audit_flags,omitempty"`
}

// Snapshot bundles what one analysis round fetches per subject.
type Snapshot struct {
	Quote        *Quote        `json:"quote,omitempty"`
	Fundamentals *Fundamentals `json:"fundamentals,omitempty"`
	Headlines    []string      `json:"headlines,omitempty"`
}

type snapshotRequest struct {
	Ticker string `json:"ticker"`
}

// FetchSnapshot fetches quote, fundamentals and sentiment headlines for a
// ticker. Each leg is independent: a failed leg leaves its field nil and the
// snapshot still returns, so one dead feed degrades rather than blocks an
// analysis.
func FetchSnapshot(ctx context.Context, p Provider, ticker string) (*Snapshot, error) {
	payload, err := json.Marshal(snapshotRequest{Ticker: ticker})
	if err != nil {
		return nil, fmt.Errorf("dataflows: encode snapshot request: %w", err)
	}

	snap := &Snapshot{}
	if raw, err := p.Call(ctx, ResourceMarketData, payload); err == nil {
		var q Quote
		if json.Unmarshal(raw, &q) == nil {
			snap.Quote = &q
		}
	} else if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if raw, err := p.Call(ctx, ResourceFundamentals, payload); err == nil {
		var f Fundamentals
		if json.Unmarshal(raw, &f) == nil {
			snap.Fundamentals = &f
		}
	} else if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if raw, err := p.Call(ctx, ResourceSentiment, payload); err == nil {
		var headlines []string
		if json.Unmarshal(raw, &headlines) == nil {
			snap.Headlines = headlines
		}
	} else if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return snap, nil
}

// HTTPProvider calls a market-data gateway over HTTP. The resource name maps
// to a path under the gateway base URL.
type HTTPProvider struct {
	client *resty.Client
	log    *logrus.Entry
}

// NewHTTPProvider builds a provider for the gateway at baseURL.
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration, log *logrus.Logger) *HTTPProvider {
	if log == nil {
		log = logrus.New()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetRetryCount(2)
	if apiKey != "" {
		client.SetHeader("Authorization", "Bearer "+apiKey)
	}
	return &HTTPProvider{
		client: client,
		log:    log.WithField("component", "dataflows.http"),
	}
}

// Call posts the payload to the resource's endpoint and returns the raw
// response body.
func (p *HTTPProvider) Call(ctx context.Context, resource string, payload []byte) ([]byte, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post("/v1/" + resource)
	if err != nil {
		return nil, fmt.Errorf("dataflows: %s call failed: %w", resource, err)
	}
	if resp.IsError() {
		p.log.WithFields(logrus.Fields{
			"resource": resource,
			"status":   resp.StatusCode(),
		}).Warn("upstream returned error status")
		return nil, fmt.Errorf("dataflows: %s returned status %d", resource, resp.StatusCode())
	}
	return resp.Body(), nil
}

// GovernedProvider routes every call through the governor, which applies the
// resource's rate budget and the external-API response cache.
type GovernedProvider struct {
	gov  *governor.Governor
	next Provider
}

// NewGovernedProvider wraps next with governance.
func NewGovernedProvider(gov *governor.Governor, next Provider) *GovernedProvider {
	return &GovernedProvider{gov: gov, next: next}
}

func (p *GovernedProvider) Call(ctx context.Context, resource string, payload []byte) ([]byte, error) {
	return p.gov.Do(ctx, resource, payload, func(ctx context.Context) ([]byte, error) {
		return p.next.Call(ctx, resource, payload)
	})
}

// StaticProvider serves canned responses keyed by resource name. Used by
// offline runs and tests.
type StaticProvider struct {
	responses map[string][]byte
	errs      map[string]error
}

// NewStaticProvider builds an empty static feed.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		responses: make(map[string][]byte),
		errs:      make(map[string]error),
	}
}

// SetJSON registers v, JSON-encoded, as the response for resource.
func (p *StaticProvider) SetJSON(resource string, v interface{}) *StaticProvider {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("dataflows: static response for %s: %v", resource, err))
	}
	p.responses[resource] = data
	return p
}

// SetError makes calls for resource fail with err.
func (p *StaticProvider) SetError(resource string, err error) *StaticProvider {
	p.errs[resource] = err
	return p
}

func (p *StaticProvider) Call(ctx context.Context, resource string, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := p.errs[resource]; ok {
		return nil, err
	}
	if data, ok := p.responses[resource]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("dataflows: no static response for %s", resource)
}
