package hyperliquid

import (
	json "github.com/goccy/go-json"

	"github.com/coachpo/tradelink/internal/infra/adapters/shared"
)

const (
	subOrderUpdates = "orderUpdates"
	subUserFills    = "userFills"
	subWebData2     = "webData2"

	channelSubscriptionResponse = "subscriptionResponse"
	channelPong                 = "pong"
	channelError                = "error"
)

type subscription struct {
	Type string `json:"type"`
	User string `json:"user"`
}

type wsRequest struct {
	Method       string        `json:"method"`
	Subscription *subscription `json:"subscription,omitempty"`
}

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wsBasicOrder struct {
	Coin       string         `json:"coin"`
	Side       string         `json:"side"`
	Sz         shared.Decimal `json:"sz"`
	Oid        shared.ID      `json:"oid"`
	Timestamp  shared.Millis  `json:"timestamp"`
	OrigSz     shared.Decimal `json:"origSz"`
	Cloid      string         `json:"cloid"`
	ReduceOnly bool           `json:"reduceOnly"`
}

type wsOrder struct {
	Order           wsBasicOrder  `json:"order"`
	Status          string        `json:"status"`
	StatusTimestamp shared.Millis `json:"statusTimestamp"`
}

type wsFill struct {
	Coin          string         `json:"coin"`
	Px            shared.Decimal `json:"px"`
	Sz            shared.Decimal `json:"sz"`
	Side          string         `json:"side"`
	Time          shared.Millis  `json:"time"`
	Oid           shared.ID      `json:"oid"`
	ClosedPnl     shared.Decimal `json:"closedPnl"`
	StartPosition shared.Decimal `json:"startPosition"`
	Dir           string         `json:"dir"`
	Tid           shared.ID      `json:"tid"`
}

type wsUserFills struct {
	IsSnapshot bool              `json:"isSnapshot"`
	User       string            `json:"user"`
	Fills      []json.RawMessage `json:"fills"`
}

type wsPosition struct {
	Coin          string         `json:"coin"`
	Szi           shared.Decimal `json:"szi"`
	EntryPx       shared.Decimal `json:"entryPx"`
	UnrealizedPnl shared.Decimal `json:"unrealizedPnl"`
}

type wsAssetPosition struct {
	Type     string          `json:"type"`
	Position json.RawMessage `json:"position"`
}

type wsClearinghouseState struct {
	AssetPositions []wsAssetPosition `json:"assetPositions"`
	Time           shared.Millis     `json:"time"`
}

type wsWebData2 struct {
	ClearinghouseState *wsClearinghouseState `json:"clearinghouseState"`
	ServerTime         shared.Millis         `json:"serverTime"`
	User               string                `json:"user"`
}
