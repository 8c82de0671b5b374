package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/noah-isme/roastery-checkout/internal/pricing"
	"github.com/noah-isme/roastery-checkout/internal/resilience"
)

const (
	zarinpalDefaultBaseURL = "https://payment.zarinpal.com"
	zarinpalCodeSuccess    = 100
	zarinpalCodeVerified   = 101
)

// Zarinpal talks to the Zarinpal REST v4 API.
type Zarinpal struct {
	MerchantID string
	BaseURL    string
	HTTP       resilience.HTTPClient
}

type zarinpalRequestBody struct {
	MerchantID  string            `json:"merchant_id"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	CallbackURL string            `json:"callback_url"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type zarinpalVerifyBody struct {
	MerchantID string `json:"merchant_id"`
	Amount     int64  `json:"amount"`
	Authority  string `json:"authority"`
}

type zarinpalData struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Authority string `json:"authority"`
	RefID     int64  `json:"ref_id"`
	CardPAN   string `json:"card_pan"`
	FeeType   string `json:"fee_type"`
	Fee       int64  `json:"fee"`
}

type zarinpalEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

type zarinpalError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (Zarinpal) Name() string { return "zarinpal" }

func (z Zarinpal) baseURL() string {
	if b := strings.TrimRight(strings.TrimSpace(z.BaseURL), "/"); b != "" {
		return b
	}
	return zarinpalDefaultBaseURL
}

// Request opens a payment and returns the StartPay redirect.
func (z Zarinpal) Request(ctx context.Context, req Request) (Redirect, error) {
	if strings.TrimSpace(z.MerchantID) == "" {
		return Redirect{}, errors.New("zarinpal: merchant id not configured")
	}
	meta := map[string]string{}
	if req.Mobile != "" {
		meta["mobile"] = req.Mobile
	}
	if req.Email != "" {
		meta["email"] = req.Email
	}
	body := zarinpalRequestBody{
		MerchantID:  z.MerchantID,
		Amount:      req.Amount.Amount,
		Currency:    zarinpalCurrency(req.Amount.Currency),
		CallbackURL: req.CallbackURL,
		Description: req.Description,
		Metadata:    meta,
	}
	data, raw, err := z.call(ctx, "/pg/v4/payment/request.json", body)
	if err != nil {
		return Redirect{}, err
	}
	if data.Code != zarinpalCodeSuccess || data.Authority == "" {
		return Redirect{}, fmt.Errorf("zarinpal: request rejected with code %d: %s", data.Code, rawMessage(raw))
	}
	return Redirect{
		Authority: data.Authority,
		URL:       z.baseURL() + "/pg/StartPay/" + url.PathEscape(data.Authority),
	}, nil
}

// Verify confirms the payment. Code 101 means it was verified earlier and is
// treated as captured.
func (z Zarinpal) Verify(ctx context.Context, authority string, amount pricing.Money) (Verification, error) {
	data, raw, err := z.call(ctx, "/pg/v4/payment/verify.json", zarinpalVerifyBody{
		MerchantID: z.MerchantID,
		Amount:     amount.Amount,
		Authority:  authority,
	})
	if err != nil {
		return Verification{}, err
	}
	switch data.Code {
	case zarinpalCodeSuccess, zarinpalCodeVerified:
		return Verification{
			Status:  StatusCaptured,
			RefID:   strconv.FormatInt(data.RefID, 10),
			CardPAN: data.CardPAN,
			Fee:     pricing.New(data.Fee, amount.Currency),
			Raw:     raw,
		}, nil
	default:
		return Verification{
			Status: StatusFailed,
			Fee:    pricing.Zero(amount.Currency),
			Raw:    raw,
			Reason: fmt.Sprintf("zarinpal code %d", data.Code),
		}, nil
	}
}

// ParseCallback reads the Authority and Status parameters Zarinpal appends to
// the callback URL.
func (Zarinpal) ParseCallback(params url.Values) (Callback, error) {
	authority := strings.TrimSpace(params.Get("Authority"))
	if authority == "" {
		return Callback{}, fmt.Errorf("%w: missing authority", ErrInvalidCallback)
	}
	return Callback{Authority: authority, OK: strings.EqualFold(params.Get("Status"), "OK")}, nil
}

func (z Zarinpal) call(ctx context.Context, path string, body any) (zarinpalData, json.RawMessage, error) {
	var env zarinpalEnvelope
	status, err := z.HTTP.PostJSON(ctx, z.baseURL()+path, body, &env)
	if err != nil {
		return zarinpalData{}, nil, fmt.Errorf("zarinpal: %w", err)
	}
	raw, _ := json.Marshal(env)
	var data zarinpalData
	if len(env.Data) > 0 && env.Data[0] == '{' {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return zarinpalData{}, raw, fmt.Errorf("zarinpal: decode data: %w", err)
		}
	}
	if data.Code == 0 {
		var zerr zarinpalError
		if len(env.Errors) > 0 && env.Errors[0] == '{' {
			_ = json.Unmarshal(env.Errors, &zerr)
		}
		if zerr.Code != 0 {
			data.Code = zerr.Code
			data.Message = zerr.Message
		} else if status >= 400 {
			return zarinpalData{}, raw, fmt.Errorf("zarinpal: http status %d", status)
		}
	}
	return data, raw, nil
}

func zarinpalCurrency(code string) string {
	switch strings.ToUpper(code) {
	case "IRR":
		return "IRR"
	default:
		return "IRT"
	}
}

func rawMessage(raw json.RawMessage) string {
	if len(raw) > 256 {
		return string(raw[:256])
	}
	return string(raw)
}
