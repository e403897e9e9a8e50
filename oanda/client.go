// Package oanda reads candles and account snapshots from the OANDA v20 REST
// API. Client satisfies market.CandleSource and portfolio.SnapshotSource so
// the risk service can run against a live or practice account.
package oanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/fxrisk/market"
	"github.com/rustyeddy/fxrisk/portfolio"
)

const (
	// PracticeURL is the URL for OANDA's practice/demo environment
	PracticeURL = "https://api-fxpractice.oanda.com"
	// LiveURL is the URL for OANDA's live trading environment
	LiveURL = "https://api-fxtrade.oanda.com"

	maxCount = 5000
)

// Granularity represents the time frame for candles
type Granularity string

const (
	M1  Granularity = "M1"
	M5  Granularity = "M5"
	M15 Granularity = "M15"
	H1  Granularity = "H1"
	H4  Granularity = "H4"
	D   Granularity = "D"
	W   Granularity = "W"
)

// Client represents an OANDA API client
type Client struct {
	baseURL     string
	token       string
	accountID   string
	granularity Granularity
	httpClient  *http.Client
}

type Option func(*Client)

// WithBaseURL points the client at another host, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithGranularity sets the candle granularity. The default is daily, which
// matches the one-day VaR horizon.
func WithGranularity(g Granularity) Option {
	return func(c *Client) {
		if g != "" {
			c.granularity = g
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// NewClient creates a new OANDA API client
func NewClient(token, accountID string, practice bool, opts ...Option) *Client {
	baseURL := LiveURL
	if practice {
		baseURL = PracticeURL
	}

	c := &Client{
		baseURL:     baseURL,
		token:       token,
		accountID:   accountID,
		granularity: D,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// get fetches path and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept-Datetime-Format", "RFC3339")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// APIError is a non-200 answer from the API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("oanda API error (status %d): %s", e.Status, e.Body)
}

type candleData struct {
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
}

type apiCandle struct {
	Complete bool       `json:"complete"`
	Volume   int        `json:"volume"`
	Time     string     `json:"time"`
	Mid      candleData `json:"mid"`
}

type candlesResponse struct {
	Instrument  string      `json:"instrument"`
	Granularity string      `json:"granularity"`
	Candles     []apiCandle `json:"candles"`
}

// Candles returns up to count complete mid candles for pair, oldest first.
// An unknown instrument or an empty answer is market.ErrNoData.
func (c *Client) Candles(ctx context.Context, pair string, count int) ([]market.Candle, error) {
	pair = market.Normalize(pair)
	if count <= 0 || count > maxCount {
		count = maxCount
	}

	params := url.Values{}
	params.Set("price", "M")
	params.Set("granularity", string(c.granularity))
	// the in-progress candle is dropped below
	params.Set("count", strconv.Itoa(min(count+1, maxCount)))

	var apiResp candlesResponse
	err := c.get(ctx, "/v3/instruments/"+url.PathEscape(pair)+"/candles", params, &apiResp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusBadRequest) {
			return nil, fmt.Errorf("%s: %w", pair, market.ErrNoData)
		}
		return nil, err
	}

	candles := make([]market.Candle, 0, len(apiResp.Candles))
	for _, ac := range apiResp.Candles {
		if !ac.Complete {
			continue
		}
		cd, err := toCandle(ac)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", pair, err)
		}
		candles = append(candles, cd)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%s: %w", pair, market.ErrNoData)
	}
	if len(candles) > count {
		candles = candles[len(candles)-count:]
	}
	return candles, nil
}

func toCandle(ac apiCandle) (market.Candle, error) {
	t, err := time.Parse(time.RFC3339Nano, ac.Time)
	if err != nil {
		return market.Candle{}, fmt.Errorf("parse time %s: %w", ac.Time, err)
	}
	var ohlc [4]float64
	for i, s := range []string{ac.Mid.O, ac.Mid.H, ac.Mid.L, ac.Mid.C} {
		if ohlc[i], err = strconv.ParseFloat(s, 64); err != nil {
			return market.Candle{}, fmt.Errorf("parse price %q: %w", s, err)
		}
	}
	return market.Candle{
		Time:   t.UTC(),
		Open:   ohlc[0],
		High:   ohlc[1],
		Low:    ohlc[2],
		Close:  ohlc[3],
		Volume: float64(ac.Volume),
	}, nil
}

type accountSummary struct {
	Account struct {
		Balance         string `json:"balance"`
		MarginAvailable string `json:"marginAvailable"`
		MarginUsed      string `json:"marginUsed"`
	} `json:"account"`
}

type positionSide struct {
	Units        string `json:"units"`
	AveragePrice string `json:"averagePrice"`
	UnrealizedPL string `json:"unrealizedPL"`
}

type openPositions struct {
	Positions []struct {
		Instrument string       `json:"instrument"`
		Long       positionSide `json:"long"`
		Short      positionSide `json:"short"`
	} `json:"positions"`
}

// Snapshot builds a portfolio state from the account summary and its open
// positions. Hedged instruments are netted into one position.
func (c *Client) Snapshot(ctx context.Context) (portfolio.State, error) {
	if c.accountID == "" {
		return portfolio.State{}, fmt.Errorf("oanda: account id is required")
	}
	base := "/v3/accounts/" + url.PathEscape(c.accountID)

	var sum accountSummary
	if err := c.get(ctx, base+"/summary", nil, &sum); err != nil {
		return portfolio.State{}, fmt.Errorf("account summary: %w", err)
	}
	var open openPositions
	if err := c.get(ctx, base+"/openPositions", nil, &open); err != nil {
		return portfolio.State{}, fmt.Errorf("open positions: %w", err)
	}

	st := portfolio.State{
		Timestamp:        time.Now().UTC(),
		TotalBalance:     num(sum.Account.Balance),
		AvailableBalance: num(sum.Account.MarginAvailable),
		TotalRisk:        num(sum.Account.MarginUsed),
		ActivePositions:  make(map[string]portfolio.Position, len(open.Positions)),
	}
	for _, p := range open.Positions {
		long, short := num(p.Long.Units), num(p.Short.Units) // short units are negative
		net := long + short
		if net == 0 {
			continue
		}
		pair := market.Normalize(p.Instrument)
		pos := portfolio.Position{
			ID:            pair,
			Pair:          pair,
			Size:          net,
			UnrealizedPnL: num(p.Long.UnrealizedPL) + num(p.Short.UnrealizedPL),
		}
		if net > 0 {
			pos.Direction = portfolio.Long
			pos.EntryPrice = num(p.Long.AveragePrice)
		} else {
			pos.Direction = portfolio.Short
			pos.EntryPrice = num(p.Short.AveragePrice)
		}
		st.ActivePositions[pair] = pos
	}
	return st, nil
}

// num parses an API decimal string; blanks read as zero.
func num(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
