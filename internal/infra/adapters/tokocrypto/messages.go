package tokocrypto

import (
	json "github.com/goccy/go-json"

	"github.com/coachpo/tradelink/internal/infra/adapters/shared"
)

const (
	eventOrderTradeUpdate = "ORDER_TRADE_UPDATE"
	eventAccountUpdate    = "ACCOUNT_UPDATE"
	eventListenKeyExpired = "listenKeyExpired"
)

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
	Code      *int   `json:"code"`
	Msg       string `json:"msg"`
	Data      *struct {
		ListenKey string `json:"listenKey"`
	} `json:"data"`
}

func (r listenKeyResponse) key() string {
	if r.ListenKey != "" {
		return r.ListenKey
	}
	if r.Data != nil {
		return r.Data.ListenKey
	}
	return ""
}

// wsEnvelope covers combined-stream wrappers, raw events and request replies.
type wsEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Code   *int            `json:"code"`
	Msg    string          `json:"msg"`
}

type wsEventHeader struct {
	Event     string        `json:"e"`
	EventTime shared.Millis `json:"E"`
	TxTime    shared.Millis `json:"T"`
}

type wsOrderUpdate struct {
	wsEventHeader
	Order json.RawMessage `json:"o"`
}

type wsOrder struct {
	Symbol        string         `json:"s"`
	ClientOrderID string         `json:"c"`
	Status        string         `json:"X"`
	OrigQty       shared.Decimal `json:"q"`
	FilledQty     shared.Decimal `json:"z"`
	AvgPrice      shared.Decimal `json:"ap"`
	LastPrice     shared.Decimal `json:"L"`
	ReduceOnly    bool           `json:"R"`
	ClosePosition bool           `json:"cp"`
	RealizedPnl   shared.Decimal `json:"rp"`
	OrderID       shared.ID      `json:"i"`
	TradeTime     shared.Millis  `json:"T"`
}

type wsAccountUpdate struct {
	wsEventHeader
	Account struct {
		Reason    string            `json:"m"`
		Positions []json.RawMessage `json:"P"`
	} `json:"a"`
}

type wsPosition struct {
	Symbol       string         `json:"s"`
	Amount       shared.Decimal `json:"pa"`
	EntryPrice   shared.Decimal `json:"ep"`
	RealizedPnl  shared.Decimal `json:"rp"`
	PositionSide string         `json:"ps"`
}
