package tradestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coachpo/tradelink/internal/domain/schema"
)

// Memory is an in-process Ledger used for single-node runs and tests.
type Memory struct {
	mu     sync.RWMutex
	trades map[string]*Trade
	nextID int64
	clock  func() time.Time
}

// NewMemory constructs an empty ledger.
func NewMemory() *Memory {
	return &Memory{
		mu:     sync.RWMutex{},
		trades: make(map[string]*Trade),
		nextID: 0,
		clock:  time.Now,
	}
}

// Insert stores a trade keyed by its exchange order id, replacing any previous record.
func (m *Memory) Insert(_ context.Context, trade Trade) (Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	trade.ID = m.nextID
	if trade.Status == "" {
		trade.Status = schema.TradePending
	}
	trade.UpdatedAt = m.clock().UTC()
	stored := trade
	m.trades[trade.ExchangeOrderID] = &stored
	return stored, nil
}

func (m *Memory) FindTradeByExchangeOrderID(_ context.Context, exchangeOrderID string) (Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trade, ok := m.trades[exchangeOrderID]
	if !ok {
		return Trade{}, ErrTradeNotFound
	}
	return *trade, nil
}

func (m *Memory) FindTradeByCloseOrderID(_ context.Context, closeOrderID string) (Trade, error) {
	if closeOrderID == "" {
		return Trade{}, ErrTradeNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, trade := range m.trades {
		if trade.CloseOrderID == closeOrderID {
			return *trade, nil
		}
	}
	return Trade{}, ErrTradeNotFound
}

func (m *Memory) FindTradesByUserContractStatus(_ context.Context, userID, contract string, statuses ...schema.TradeStatus) ([]Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Trade, 0)
	for _, trade := range m.trades {
		if trade.UserID != userID || trade.Contract != contract {
			continue
		}
		if len(statuses) > 0 && !statusIn(trade.Status, statuses) {
			continue
		}
		out = append(out, *trade)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateTradeStatus(_ context.Context, exchangeOrderID string, update StatusUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trade, ok := m.trades[exchangeOrderID]
	if !ok {
		return false, ErrTradeNotFound
	}
	if !update.Applicable(trade.Status) {
		return false, nil
	}
	if update.Status != "" {
		trade.Status = update.Status
	}
	if update.RemainingQty != nil {
		trade.RemainingQty.Decimal, trade.RemainingQty.Valid = *update.RemainingQty, true
	}
	if update.OpenFillPrice != nil {
		trade.OpenFillPrice.Decimal, trade.OpenFillPrice.Valid = *update.OpenFillPrice, true
	}
	if update.OpenFilledAt != nil {
		ts := *update.OpenFilledAt
		trade.OpenFilledAt = &ts
	}
	if update.CloseFillPrice != nil {
		trade.CloseFillPrice.Decimal, trade.CloseFillPrice.Valid = *update.CloseFillPrice, true
	}
	if update.CloseFilledAt != nil {
		ts := *update.CloseFilledAt
		trade.CloseFilledAt = &ts
	}
	if update.RealizedPnl != nil {
		trade.RealizedPnl.Decimal, trade.RealizedPnl.Valid = *update.RealizedPnl, true
	}
	if update.ClosedAt != nil {
		ts := *update.ClosedAt
		trade.ClosedAt = &ts
	}
	if update.TargetsArmed != nil {
		trade.TargetsArmed = *update.TargetsArmed
	}
	trade.UpdatedAt = m.clock().UTC()
	return true, nil
}
