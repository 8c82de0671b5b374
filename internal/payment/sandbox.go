package payment

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/noah-isme/roastery-checkout/internal/pricing"
)

// Sandbox is an offline gateway for development and tests. Callbacks carry an
// HMAC signature so forged outcomes are rejected.
type Sandbox struct {
	SigningKey string
	// BaseURL prefixes the redirect returned to the shopper.
	BaseURL string

	mu       sync.Mutex
	requests map[string]sandboxRequest
}

type sandboxRequest struct {
	amount      pricing.Money
	callbackURL string
}

func (*Sandbox) Name() string { return "sandbox" }

// Request records the amount and returns a redirect to the sandbox pay page.
func (s *Sandbox) Request(_ context.Context, req Request) (Redirect, error) {
	if strings.TrimSpace(s.SigningKey) == "" {
		return Redirect{}, errors.New("sandbox: signing key not configured")
	}
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return Redirect{}, err
	}
	authority := "SBX" + strings.ToUpper(hex.EncodeToString(buf))
	s.mu.Lock()
	if s.requests == nil {
		s.requests = make(map[string]sandboxRequest)
	}
	s.requests[authority] = sandboxRequest{amount: req.Amount, callbackURL: req.CallbackURL}
	s.mu.Unlock()
	return Redirect{
		Authority: authority,
		URL:       strings.TrimRight(s.BaseURL, "/") + "/sandbox/pay/" + authority,
	}, nil
}

// Verify captures any payment it opened for the same amount.
func (s *Sandbox) Verify(_ context.Context, authority string, amount pricing.Money) (Verification, error) {
	s.mu.Lock()
	req, ok := s.requests[authority]
	s.mu.Unlock()
	if !ok {
		return Verification{Status: StatusFailed, Reason: "unknown authority", Fee: pricing.Zero(amount.Currency)}, nil
	}
	if req.amount.Cmp(amount) != 0 {
		return Verification{}, fmt.Errorf("%w: requested %s, verifying %s", ErrAmountMismatch, req.amount, amount)
	}
	return Verification{
		Status: StatusCaptured,
		RefID:  s.sign(authority, "ref")[:12],
		Fee:    pricing.Zero(amount.Currency),
	}, nil
}

// ParseCallback checks the signature over the authority and status.
func (s *Sandbox) ParseCallback(params url.Values) (Callback, error) {
	authority := strings.TrimSpace(params.Get("Authority"))
	status := strings.ToUpper(strings.TrimSpace(params.Get("Status")))
	sig := strings.TrimSpace(params.Get("Signature"))
	if authority == "" || status == "" || sig == "" {
		return Callback{}, fmt.Errorf("%w: missing parameters", ErrInvalidCallback)
	}
	if !hmac.Equal([]byte(s.sign(authority, status)), []byte(sig)) {
		return Callback{}, fmt.Errorf("%w: bad signature", ErrInvalidCallback)
	}
	return Callback{Authority: authority, OK: status == "OK"}, nil
}

// CallbackParams builds the signed parameters the sandbox pay page sends back.
func (s *Sandbox) CallbackParams(authority string, ok bool) url.Values {
	status := "NOK"
	if ok {
		status = "OK"
	}
	return url.Values{
		"Authority": {authority},
		"Status":    {status},
		"Signature": {s.sign(authority, status)},
	}
}

// CallbackURL returns the shopper's return URL for an authority with the
// signed outcome appended.
func (s *Sandbox) CallbackURL(authority string, ok bool) (string, error) {
	s.mu.Lock()
	req, found := s.requests[authority]
	s.mu.Unlock()
	if !found {
		return "", ErrPaymentNotFound
	}
	u, err := url.Parse(req.callbackURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range s.CallbackParams(authority, ok) {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Sandbox) sign(authority, status string) string {
	mac := hmac.New(sha256.New, []byte(s.SigningKey))
	mac.Write([]byte(authority))
	mac.Write([]byte{'|'})
	mac.Write([]byte(status))
	return hex.EncodeToString(mac.Sum(nil))
}
