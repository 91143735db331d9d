package schema

import (
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/tradelink/internal/errs"
)

// ControlOp enumerates control-plane operations.
type ControlOp string

const (
	// ControlOpen requests a live connection for the user and exchange.
	ControlOpen ControlOp = "open"
	// ControlClose requests the connection be torn down.
	ControlClose ControlOp = "close"
)

// ControlCommand is the message carried on the control channel.
type ControlCommand struct {
	ID           string       `json:"id,omitempty"`
	Op           ControlOp    `json:"op"`
	UserID       string       `json:"userId"`
	ExchangeKind ExchangeKind `json:"exchangeKind"`
	Topics       []string     `json:"topics,omitempty"`
}

// DecodeControlCommand parses and validates a control message payload.
func DecodeControlCommand(payload []byte) (ControlCommand, error) {
	var cmd ControlCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return ControlCommand{}, errs.New("", errs.CodeInvalid, errs.WithMessage("decode control command"), errs.WithCause(err))
	}
	cmd.Op = ControlOp(strings.ToLower(strings.TrimSpace(string(cmd.Op))))
	cmd.UserID = strings.TrimSpace(cmd.UserID)
	if cmd.Op != ControlOpen && cmd.Op != ControlClose {
		return ControlCommand{}, errs.New(string(cmd.ExchangeKind), errs.CodeInvalid, errs.WithMessage("unknown control op"), errs.WithField("op", string(cmd.Op)))
	}
	if cmd.UserID == "" {
		return ControlCommand{}, errs.New(string(cmd.ExchangeKind), errs.CodeInvalid, errs.WithMessage("control command missing userId"))
	}
	kind, err := ParseExchangeKind(string(cmd.ExchangeKind))
	if err != nil {
		return ControlCommand{}, err
	}
	cmd.ExchangeKind = kind
	topics := cmd.Topics[:0]
	for _, topic := range cmd.Topics {
		if trimmed := strings.TrimSpace(topic); trimmed != "" {
			topics = append(topics, trimmed)
		}
	}
	cmd.Topics = topics
	return cmd, nil
}

// Encode serializes the command for publication on the control channel.
func (c ControlCommand) Encode() ([]byte, error) {
	return json.Marshal(c)
}
