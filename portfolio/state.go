package portfolio

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rustyeddy/fxrisk/market"
	"gopkg.in/yaml.v3"
)

// State is an immutable per-cycle snapshot of the portfolio.
type State struct {
	Timestamp           time.Time           `json:"timestamp" yaml:"timestamp"`
	TotalBalance        float64             `json:"total_balance" yaml:"total_balance"`
	AvailableBalance    float64             `json:"available_balance" yaml:"available_balance"`
	TotalRisk           float64             `json:"total_risk" yaml:"total_risk"`
	ActivePositions     map[string]Position `json:"active_positions" yaml:"active_positions"`
	StrategyAllocations map[string]float64  `json:"strategy_allocations" yaml:"strategy_allocations"`
}

// Pairs returns the held pairs in a stable order.
func (s State) Pairs() []string {
	out := make([]string, 0, len(s.ActivePositions))
	for pair := range s.ActivePositions {
		out = append(out, pair)
	}
	sort.Strings(out)
	return out
}

// Position returns the position held under pair. A blank Pair is filled in
// from the map key.
func (s State) Position(pair string) (Position, bool) {
	p, ok := s.ActivePositions[pair]
	if ok && p.Pair == "" {
		p.Pair = market.Normalize(pair)
	}
	return p, ok
}

func (s State) Empty() bool {
	return len(s.ActivePositions) == 0
}

// Equity is the balance marked to market with open positions' unrealized
// PnL. It is the value the emergency drawdown is measured on.
func (s State) Equity() float64 {
	eq := s.TotalBalance
	for _, p := range s.ActivePositions {
		eq += p.UnrealizedPnL
	}
	return eq
}

// GrossExposure sums the absolute notional of all positions, priced at the
// latest close in h (entry price when h has none). Positions that cannot be
// converted into the account currency are left out.
func (s State) GrossExposure(h market.History, accountCurrency string) float64 {
	total := 0.0
	for _, pair := range s.Pairs() {
		p, _ := s.Position(pair)
		px, _ := h.LastClose(pair)
		n, err := p.Notional(px, accountCurrency, h)
		if err != nil {
			continue
		}
		total += n
	}
	return total
}

// SnapshotSource yields the current portfolio snapshot.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (State, error)
}

// FileSource reads a snapshot from a YAML file on every call.
type FileSource struct {
	Path string
}

func (f FileSource) Snapshot(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	return LoadFromFile(f.Path)
}

// LoadFromFile reads a YAML snapshot. Map keys are normalized to BASE_QUOTE
// and copied into each position's Pair.
func LoadFromFile(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, fmt.Errorf("read portfolio file: %w", err)
	}

	var raw State
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return State{}, fmt.Errorf("parse portfolio: %w", err)
	}

	st := raw
	st.ActivePositions = make(map[string]Position, len(raw.ActivePositions))
	for key, p := range raw.ActivePositions {
		pair := market.Normalize(key)
		p.Pair = pair
		st.ActivePositions[pair] = p
	}
	if st.Timestamp.IsZero() {
		st.Timestamp = time.Now().UTC()
	}
	return st, nil
}
