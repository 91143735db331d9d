package okx

import (
	json "github.com/goccy/go-json"

	"github.com/coachpo/tradelink/internal/infra/adapters/shared"
)

type loginArg struct {
	APIKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase"`
	Timestamp  string `json:"timestamp"`
	Sign       string `json:"sign"`
}

type loginRequest struct {
	Op   string     `json:"op"`
	Args []loginArg `json:"args"`
}

type wsArgument struct {
	Channel  string `json:"channel"`
	InstType string `json:"instType,omitempty"`
	InstID   string `json:"instId,omitempty"`
}

type wsRequest struct {
	ID   string       `json:"id,omitempty"`
	Op   string       `json:"op"`
	Args []wsArgument `json:"args"`
}

type wsEnvelope struct {
	Arg   wsArgument        `json:"arg"`
	Data  []json.RawMessage `json:"data"`
	Event string            `json:"event"`
	Code  string            `json:"code"`
	Msg   string            `json:"msg"`
}

type wsOrder struct {
	InstID      string         `json:"instId"`
	OrdID       string         `json:"ordId"`
	AlgoID      string         `json:"algoId"`
	Sz          shared.Decimal `json:"sz"`
	AccFillSz   shared.Decimal `json:"accFillSz"`
	AvgPx       shared.Decimal `json:"avgPx"`
	State       string         `json:"state"`
	ReduceOnly  string         `json:"reduceOnly"`
	Pnl         shared.Decimal `json:"pnl"`
	UTime       shared.Millis  `json:"uTime"`
	FillTime    shared.Millis  `json:"fillTime"`
	AmendResult string         `json:"amendResult"`
}

type wsPosition struct {
	InstID      string         `json:"instId"`
	PosSide     string         `json:"posSide"`
	MgnMode     string         `json:"mgnMode"`
	Pos         shared.Decimal `json:"pos"`
	AvgPx       shared.Decimal `json:"avgPx"`
	RealizedPnl shared.Decimal `json:"realizedPnl"`
	UTime       shared.Millis  `json:"uTime"`
}
