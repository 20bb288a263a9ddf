// Package shoonya implements the vendor adapter: message codec, resilient
// websocket transport, and subscription tracking for the Shoonya feed.
package shoonya

import (
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/quantrail/shoonya-stream/errs"
	"github.com/quantrail/shoonya-stream/internal/schema"
)

// SubscriptionSeparator joins instrument keys in subscribe/unsubscribe frames.
const SubscriptionSeparator = "#"

// Decode parses one inbound vendor frame into a canonical envelope. Malformed
// JSON yields a decode error; an unrecognised type tag yields KindUnknown.
func Decode(raw []byte) (*schema.Envelope, error) {
	var tag wireTag
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, errs.New("codec.decode", errs.CodeDecode,
			errs.WithMessage("malformed vendor frame"), errs.WithCause(err))
	}

	switch tag.Type {
	case "ck":
		var ack wireConnectAck
		if err := json.Unmarshal(raw, &ack); err != nil {
			return nil, errs.New("codec.decode", errs.CodeDecode,
				errs.WithMessage("malformed connect ack"), errs.WithCause(err))
		}
		return &schema.Envelope{
			Kind: schema.KindConnectAck,
			ConnectAck: &schema.ConnectAck{
				Status:  ack.Status,
				UserID:  ack.UserID,
				Message: ack.Message,
			},
			Raw: raw,
		}, nil
	case "tk", "tf", "dk", "df":
		var tick wireTick
		if err := json.Unmarshal(raw, &tick); err != nil {
			return nil, errs.New("codec.decode", errs.CodeDecode,
				errs.WithMessage("malformed tick frame"), errs.WithCause(err))
		}
		kind := schema.KindTick
		if tag.Type == "dk" || tag.Type == "df" {
			kind = schema.KindDepth
		}
		out := &schema.Tick{
			Exchange:     tick.Exchange,
			SymbolCode:   tick.Token,
			LastPrice:    decimal.Decimal{},
			HasLastPrice: false,
		}
		if lp := strings.TrimSpace(tick.LastPrice); lp != "" {
			price, err := decimal.NewFromString(lp)
			if err == nil {
				out.LastPrice = price
				out.HasLastPrice = true
			}
		}
		return &schema.Envelope{Kind: kind, Tick: out, Raw: raw}, nil
	case "om":
		var order wireOrderUpdate
		if err := json.Unmarshal(raw, &order); err != nil {
			return nil, errs.New("codec.decode", errs.CodeDecode,
				errs.WithMessage("malformed order update"), errs.WithCause(err))
		}
		return &schema.Envelope{Kind: schema.KindOrderUpdate, Order: canonicalOrder(order), Raw: raw}, nil
	case "h":
		return &schema.Envelope{Kind: schema.KindHeartbeat, Raw: raw}, nil
	default:
		return &schema.Envelope{Kind: schema.KindUnknown, Raw: raw}, nil
	}
}

func canonicalOrder(order wireOrderUpdate) *schema.OrderUpdate {
	out := &schema.OrderUpdate{
		OrderNo:       order.OrderNo,
		Remarks:       order.Remarks,
		Status:        order.Status,
		ReportType:    order.ReportType,
		Side:          order.Side,
		Exchange:      order.Exchange,
		TradingSymbol: order.TradingSymbol,
		SymbolCode:    order.Token,
		FillQty:       0,
		FillPrice:     decimal.Decimal{},
		HasFill:       false,
	}
	if out.SymbolCode == "" {
		out.SymbolCode = order.SymbolCode
	}
	// The vendor reports fills as string-encoded numbers; both fields must be
	// present and well-formed for the fill to count.
	if order.FillShares != "" && order.FillPrice != "" {
		qty, qtyErr := strconv.ParseInt(order.FillShares, 10, 64)
		price, priceErr := decimal.NewFromString(order.FillPrice)
		if qtyErr == nil && priceErr == nil {
			out.FillQty = qty
			out.FillPrice = price
			out.HasFill = true
		}
	}
	return out
}

// EncodeConnect builds the authenticate-on-connect frame.
func EncodeConnect(creds schema.Credentials) ([]byte, error) {
	source := creds.Source
	if source == "" {
		source = "API"
	}
	frame := wireConnect{
		Type:         "c",
		UserID:       creds.UserID,
		AccountID:    creds.AccountID,
		SessionToken: creds.SessionToken,
		Source:       source,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, errs.New("codec.encode_connect", errs.CodeInvalid, errs.WithCause(err))
	}
	return data, nil
}

// EncodeSubscribe builds a touchline subscribe frame for the given keys.
func EncodeSubscribe(keys []string) ([]byte, error) {
	return encodeKeyList("t", keys)
}

// EncodeUnsubscribe builds an unsubscribe frame for the given keys.
func EncodeUnsubscribe(keys []string) ([]byte, error) {
	return encodeKeyList("u", keys)
}

// EncodeHeartbeatReply builds the keepalive reply frame.
func EncodeHeartbeatReply() []byte {
	return []byte(`{"t":"h"}`)
}

func encodeKeyList(typ string, keys []string) ([]byte, error) {
	if len(keys) == 0 {
		return nil, errs.New("codec.encode_keys", errs.CodeInvalid,
			errs.WithMessage("empty instrument key list"))
	}
	frame := wireKeyList{Type: typ, Keys: strings.Join(keys, SubscriptionSeparator)}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, errs.New("codec.encode_keys", errs.CodeInvalid, errs.WithCause(err))
	}
	return data, nil
}

type wireTag struct {
	Type string `json:"t"`
}

type wireConnectAck struct {
	Type    string `json:"t"`
	Status  string `json:"s"`
	UserID  string `json:"uid"`
	Message string `json:"emsg"`
}

type wireTick struct {
	Type      string `json:"t"`
	Exchange  string `json:"e"`
	Token     string `json:"tk"`
	LastPrice string `json:"lp"`
}

type wireOrderUpdate struct {
	Type          string `json:"t"`
	OrderNo       string `json:"norenordno"`
	Remarks       string `json:"remarks"`
	Status        string `json:"status"`
	ReportType    string `json:"reporttype"`
	Side          string `json:"trantype"`
	Exchange      string `json:"exch"`
	TradingSymbol string `json:"tsym"`
	Token         string `json:"token"`
	SymbolCode    string `json:"symbolcode"`
	FillShares    string `json:"fillshares"`
	FillPrice     string `json:"flprc"`
}

type wireConnect struct {
	Type         string `json:"t"`
	UserID       string `json:"uid"`
	AccountID    string `json:"actid"`
	SessionToken string `json:"susertoken"`
	Source       string `json:"source"`
}

type wireKeyList struct {
	Type string `json:"t"`
	Keys string `json:"k"`
}
