package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/tradelink/internal/domain/schema"
	"github.com/coachpo/tradelink/internal/domain/tradestore"
)

// Ledger persists trades in the trades table.
type Ledger struct {
	pool *pgxpool.Pool
}

var _ tradestore.Ledger = (*Ledger)(nil)

// NewLedger constructs a Ledger backed by the provided pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	tradeSelectBase = `
SELECT id,
       user_id,
       exchange,
       exchange_order_id,
       COALESCE(close_order_id, ''),
       contract,
       status,
       take_profit_enabled,
       take_profit_executed,
       stop_loss_enabled,
       stop_loss_executed,
       remaining_qty::text,
       open_fill_price::text,
       open_filled_at,
       close_fill_price::text,
       close_filled_at,
       realized_pnl::text,
       closed_at,
       targets_armed,
       updated_at
FROM trades`

	tradeInsertSQL = `
INSERT INTO trades (
    user_id,
    exchange,
    exchange_order_id,
    close_order_id,
    contract,
    status,
    take_profit_enabled,
    stop_loss_enabled,
    remaining_qty,
    created_at,
    updated_at
)
VALUES (
    @user_id,
    @exchange,
    @exchange_order_id,
    NULLIF(@close_order_id, ''),
    @contract,
    @status,
    @take_profit_enabled,
    @stop_loss_enabled,
    @remaining_qty,
    NOW(),
    NOW()
)
RETURNING id, updated_at;
`

	// Only reconciler-owned columns appear in the SET list.
	tradeUpdateSQL = `
UPDATE trades
SET status = COALESCE(@status::text, status),
    remaining_qty = COALESCE(@remaining_qty::numeric, remaining_qty),
    open_fill_price = COALESCE(@open_fill_price::numeric, open_fill_price),
    open_filled_at = COALESCE(@open_filled_at::timestamptz, open_filled_at),
    close_fill_price = COALESCE(@close_fill_price::numeric, close_fill_price),
    close_filled_at = COALESCE(@close_filled_at::timestamptz, close_filled_at),
    realized_pnl = COALESCE(@realized_pnl::numeric, realized_pnl),
    closed_at = COALESCE(@closed_at::timestamptz, closed_at),
    targets_armed = COALESCE(@targets_armed::boolean, targets_armed),
    updated_at = NOW()
WHERE exchange_order_id = @exchange_order_id
  AND status <> ALL(@terminal::text[])
  AND (cardinality(@from_statuses::text[]) = 0 OR status = ANY(@from_statuses::text[]));
`

	tradeExistsSQL = `SELECT EXISTS (SELECT 1 FROM trades WHERE exchange_order_id = $1);`
)

func (l *Ledger) ensurePool() (*pgxpool.Pool, error) {
	if l.pool == nil {
		return nil, fmt.Errorf("trade ledger: nil pool")
	}
	return l.pool, nil
}

// Insert records a new trade. It is used by the order entry layer and tests.
func (l *Ledger) Insert(ctx context.Context, trade tradestore.Trade) (tradestore.Trade, error) {
	pool, err := l.ensurePool()
	if err != nil {
		return tradestore.Trade{}, err
	}
	if strings.TrimSpace(trade.ExchangeOrderID) == "" {
		return tradestore.Trade{}, fmt.Errorf("trade ledger: exchange order id required")
	}
	if trade.Status == "" {
		trade.Status = schema.TradePending
	}
	remaining, err := numericFromNull(trade.RemainingQty)
	if err != nil {
		return tradestore.Trade{}, fmt.Errorf("trade ledger: %w", err)
	}
	args := pgx.NamedArgs{
		"user_id":             trade.UserID,
		"exchange":            string(trade.Exchange),
		"exchange_order_id":   trade.ExchangeOrderID,
		"close_order_id":      trade.CloseOrderID,
		"contract":            trade.Contract,
		"status":              string(trade.Status),
		"take_profit_enabled": trade.TakeProfitEnabled,
		"stop_loss_enabled":   trade.StopLossEnabled,
		"remaining_qty":       remaining,
	}
	if err := pool.QueryRow(ctx, tradeInsertSQL, args).Scan(&trade.ID, &trade.UpdatedAt); err != nil {
		return tradestore.Trade{}, fmt.Errorf("trade ledger: insert trade: %w", err)
	}
	return trade, nil
}

func (l *Ledger) FindTradeByExchangeOrderID(ctx context.Context, exchangeOrderID string) (tradestore.Trade, error) {
	return l.findOne(ctx, " WHERE exchange_order_id = $1", exchangeOrderID)
}

func (l *Ledger) FindTradeByCloseOrderID(ctx context.Context, closeOrderID string) (tradestore.Trade, error) {
	if strings.TrimSpace(closeOrderID) == "" {
		return tradestore.Trade{}, tradestore.ErrTradeNotFound
	}
	return l.findOne(ctx, " WHERE close_order_id = $1 ORDER BY id DESC LIMIT 1", closeOrderID)
}

func (l *Ledger) findOne(ctx context.Context, where string, arg string) (tradestore.Trade, error) {
	pool, err := l.ensurePool()
	if err != nil {
		return tradestore.Trade{}, err
	}
	trade, err := scanTrade(pool.QueryRow(ctx, tradeSelectBase+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return tradestore.Trade{}, tradestore.ErrTradeNotFound
	}
	if err != nil {
		return tradestore.Trade{}, fmt.Errorf("trade ledger: find trade: %w", err)
	}
	return trade, nil
}

func (l *Ledger) FindTradesByUserContractStatus(ctx context.Context, userID, contract string, statuses ...schema.TradeStatus) ([]tradestore.Trade, error) {
	pool, err := l.ensurePool()
	if err != nil {
		return nil, err
	}
	builder := strings.Builder{}
	builder.WriteString(tradeSelectBase)
	builder.WriteString(" WHERE user_id = $1 AND contract = $2")
	args := []any{userID, contract}
	if len(statuses) > 0 {
		builder.WriteString(" AND status = ANY($3)")
		args = append(args, statusStrings(statuses))
	}
	builder.WriteString(" ORDER BY id")

	rows, err := pool.Query(ctx, builder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("trade ledger: list trades: %w", err)
	}
	defer rows.Close()

	trades := make([]tradestore.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("trade ledger: scan trade: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trade ledger: iterate trades: %w", err)
	}
	return trades, nil
}

// UpdateTradeStatus applies the guarded update. Terminal rows and rows outside update.From
// are left untouched and report false.
func (l *Ledger) UpdateTradeStatus(ctx context.Context, exchangeOrderID string, update tradestore.StatusUpdate) (bool, error) {
	pool, err := l.ensurePool()
	if err != nil {
		return false, err
	}
	return l.updateWith(ctx, pool, exchangeOrderID, update)
}

func (l *Ledger) updateWith(ctx context.Context, exec execer, exchangeOrderID string, update tradestore.StatusUpdate) (bool, error) {
	args, err := updateArgs(exchangeOrderID, update)
	if err != nil {
		return false, fmt.Errorf("trade ledger: %w", err)
	}
	tag, err := exec.Exec(ctx, tradeUpdateSQL, args)
	if err != nil {
		return false, fmt.Errorf("trade ledger: update trade: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	if err := exec.QueryRow(ctx, tradeExistsSQL, exchangeOrderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("trade ledger: check trade: %w", err)
	}
	if !exists {
		return false, tradestore.ErrTradeNotFound
	}
	return false, nil
}

func updateArgs(exchangeOrderID string, update tradestore.StatusUpdate) (pgx.NamedArgs, error) {
	var status any
	if update.Status != "" {
		status = string(update.Status)
	}
	remaining, err := numericFromDecimal(update.RemainingQty)
	if err != nil {
		return nil, err
	}
	openPrice, err := numericFromDecimal(update.OpenFillPrice)
	if err != nil {
		return nil, err
	}
	closePrice, err := numericFromDecimal(update.CloseFillPrice)
	if err != nil {
		return nil, err
	}
	pnl, err := numericFromDecimal(update.RealizedPnl)
	if err != nil {
		return nil, err
	}
	return pgx.NamedArgs{
		"exchange_order_id": exchangeOrderID,
		"status":            status,
		"remaining_qty":     remaining,
		"open_fill_price":   openPrice,
		"open_filled_at":    update.OpenFilledAt,
		"close_fill_price":  closePrice,
		"close_filled_at":   update.CloseFilledAt,
		"realized_pnl":      pnl,
		"closed_at":         update.ClosedAt,
		"targets_armed":     update.TargetsArmed,
		"terminal":          statusStrings(schema.TerminalTradeStatuses()),
		"from_statuses":     statusStrings(update.From),
	}, nil
}

func scanTrade(row pgx.Row) (tradestore.Trade, error) {
	var (
		trade         tradestore.Trade
		exchange      string
		status        string
		remaining     pgtype.Text
		openPrice     pgtype.Text
		openFilledAt  pgtype.Timestamptz
		closePrice    pgtype.Text
		closeFilledAt pgtype.Timestamptz
		pnl           pgtype.Text
		closedAt      pgtype.Timestamptz
		updatedAt     time.Time
	)
	if err := row.Scan(
		&trade.ID,
		&trade.UserID,
		&exchange,
		&trade.ExchangeOrderID,
		&trade.CloseOrderID,
		&trade.Contract,
		&status,
		&trade.TakeProfitEnabled,
		&trade.TakeProfitExecuted,
		&trade.StopLossEnabled,
		&trade.StopLossExecuted,
		&remaining,
		&openPrice,
		&openFilledAt,
		&closePrice,
		&closeFilledAt,
		&pnl,
		&closedAt,
		&trade.TargetsArmed,
		&updatedAt,
	); err != nil {
		return tradestore.Trade{}, err
	}
	trade.Exchange = schema.ExchangeKind(exchange)
	trade.Status = schema.TradeStatus(status)
	trade.UpdatedAt = updatedAt.UTC()
	trade.OpenFilledAt = timeFromTimestamptz(openFilledAt)
	trade.CloseFilledAt = timeFromTimestamptz(closeFilledAt)
	trade.ClosedAt = timeFromTimestamptz(closedAt)

	var err error
	if trade.RemainingQty, err = decimalFromText(remaining); err != nil {
		return tradestore.Trade{}, err
	}
	if trade.OpenFillPrice, err = decimalFromText(openPrice); err != nil {
		return tradestore.Trade{}, err
	}
	if trade.CloseFillPrice, err = decimalFromText(closePrice); err != nil {
		return tradestore.Trade{}, err
	}
	if trade.RealizedPnl, err = decimalFromText(pnl); err != nil {
		return tradestore.Trade{}, err
	}
	return trade, nil
}

func statusStrings(statuses []schema.TradeStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
