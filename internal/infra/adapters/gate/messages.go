package gate

import (
	json "github.com/goccy/go-json"

	"github.com/coachpo/tradelink/internal/infra/adapters/shared"
)

const (
	channelOrders    = "futures.orders"
	channelPositions = "futures.positions"
	channelPing      = "futures.ping"
	channelPong      = "futures.pong"
)

type wsAuth struct {
	Method string `json:"method"`
	Key    string `json:"KEY"`
	Sign   string `json:"SIGN"`
}

type wsRequest struct {
	Time    int64    `json:"time"`
	Channel string   `json:"channel"`
	Event   string   `json:"event"`
	Payload []string `json:"payload,omitempty"`
	Auth    *wsAuth  `json:"auth,omitempty"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wsEnvelope struct {
	Time    int64           `json:"time"`
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Error   *wsError        `json:"error"`
	Result  json.RawMessage `json:"result"`
}

type wsOrder struct {
	ID                shared.ID      `json:"id"`
	IDString          string         `json:"id_string"`
	Contract          string         `json:"contract"`
	Size              shared.Decimal `json:"size"`
	Left              shared.Decimal `json:"left"`
	FillPrice         shared.Decimal `json:"fill_price"`
	Status            string         `json:"status"`
	FinishAs          string         `json:"finish_as"`
	IsReduceOnly      bool           `json:"is_reduce_only"`
	IsClose           bool           `json:"is_close"`
	IsLiq             bool           `json:"is_liq"`
	LinkedOpenOrderID shared.ID      `json:"linked_open_order_id"`
	RelatedID         shared.ID      `json:"related_id"`
	FinishTimeMs      shared.Millis  `json:"finish_time_ms"`
	CreateTimeMs      shared.Millis  `json:"create_time_ms"`
}

type wsPosition struct {
	Contract     string         `json:"contract"`
	Size         shared.Decimal `json:"size"`
	EntryPrice   shared.Decimal `json:"entry_price"`
	RealisedPnl  shared.Decimal `json:"realised_pnl"`
	Mode         string         `json:"mode"`
	PositionSide string         `json:"position_side"`
	TimeMs       shared.Millis  `json:"time_ms"`
}

type ackResult struct {
	Status string `json:"status"`
}
