// Package notify delivers domain events to external webhook subscribers such
// as the messaging and analytics collaborators.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/roastery-checkout/internal/common"
	"github.com/noah-isme/roastery-checkout/internal/events"
	"github.com/noah-isme/roastery-checkout/internal/obs"
	"github.com/noah-isme/roastery-checkout/internal/resilience"
)

// ErrDeliveryFailed is returned when an endpoint answered with a non-2xx status.
var ErrDeliveryFailed = errors.New("webhook delivery failed")

// Endpoint is a subscriber URL. An empty Topics list subscribes to everything.
type Endpoint struct {
	URL    string
	Secret string
	Topics []string
}

func (e Endpoint) wants(topic string) bool {
	if len(e.Topics) == 0 {
		return true
	}
	for _, t := range e.Topics {
		if strings.EqualFold(strings.TrimSpace(t), topic) {
			return true
		}
	}
	return false
}

// Webhook posts signed event envelopes to the configured endpoints.
type Webhook struct {
	Endpoints []Endpoint
	HTTP      *resilience.HTTPClient
	Ledger    DeliveryLedger
	ReplayTTL time.Duration
	Logger    *zerolog.Logger
	Now       func() time.Time
}

type envelope struct {
	EventID     string          `json:"eventId"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Data        json.RawMessage `json:"data"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// Deliver sends ev to every subscribed endpoint. Endpoints that already
// received the event inside the replay window are skipped, so a retried task
// only resends to the endpoints that failed.
func (w *Webhook) Deliver(ctx context.Context, ev events.Event) error {
	if w == nil || len(w.Endpoints) == 0 {
		return nil
	}
	ctx, span := otel.Tracer("notify.Webhook").Start(ctx, "Webhook.Deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", ev.ID.String()),
		attribute.String("event.topic", ev.Topic),
	)

	body, err := json.Marshal(envelope{
		EventID:     ev.ID.String(),
		Topic:       ev.Topic,
		AggregateID: ev.AggregateID.String(),
		Data:        ev.Payload,
		OccurredAt:  ev.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("encode webhook envelope: %w", err)
	}

	var joined error
	for i, ep := range w.Endpoints {
		if !ep.wants(ev.Topic) {
			continue
		}
		if err := w.deliverOne(ctx, ep, ev, body); err != nil {
			span.RecordError(err)
			joined = errors.Join(joined, fmt.Errorf("endpoint %d: %w", i, err))
		}
	}
	return joined
}

func (w *Webhook) deliverOne(ctx context.Context, ep Endpoint, ev events.Event, body []byte) error {
	if err := validateURL(ep.URL); err != nil {
		obs.Inc(obs.EventDeliveryTotal, ev.Topic, "invalid")
		return err
	}
	key := deliveryKey(ep, ev)
	if w.Ledger != nil && w.ReplayTTL > 0 {
		ok, err := w.Ledger.Claim(ctx, key, w.ReplayTTL)
		if err != nil {
			return err
		}
		if !ok {
			obs.Inc(obs.EventDeliveryTotal, ev.Topic, "replay")
			return nil
		}
	}

	status, err := w.post(ctx, ep, ev, body)
	if err == nil && (status < 200 || status > 299) {
		err = fmt.Errorf("%w: status %d", ErrDeliveryFailed, status)
	}
	if err != nil {
		obs.Inc(obs.EventDeliveryTotal, ev.Topic, "failed")
		if w.Ledger != nil && w.ReplayTTL > 0 {
			_ = w.Ledger.Forget(context.WithoutCancel(ctx), key)
		}
		w.logger(ctx).Warn().Err(err).Str("event_id", ev.ID.String()).Str("topic", ev.Topic).Msg("webhook delivery failed")
		return err
	}
	obs.Inc(obs.EventDeliveryTotal, ev.Topic, "delivered")
	return nil
}

func (w *Webhook) post(ctx context.Context, ep Endpoint, ev events.Event, body []byte) (int, error) {
	if w.HTTP == nil {
		return 0, errors.New("notify: http client not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	ts := w.now().Unix()
	eventID := ev.ID.String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "roastery-checkout-webhooks/1.0")
	req.Header.Set("X-Event-ID", eventID)
	req.Header.Set("X-Event-Topic", ev.Topic)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Signature", ComputeSignature(ep.Secret, ts, eventID, body))
	resp, err := w.HTTP.Do(ctx, req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

func (w *Webhook) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Webhook) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	if w.Logger != nil {
		return w.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

var errPlainHTTP = errors.New("plain http webhook urls are only allowed for localhost")

// validateURL accepts https anywhere and plain http only for loopback
// subscribers used in development.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if u.Host == "" {
		return errors.New("webhook url must include host")
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		host := u.Hostname()
		if host == "localhost" {
			return nil
		}
		if addr, err := netip.ParseAddr(host); err == nil && addr.IsLoopback() {
			return nil
		}
		return errPlainHTTP
	default:
		return fmt.Errorf("unsupported webhook scheme %q", u.Scheme)
	}
}

// ComputeSignature returns the hex HMAC-SHA256, keyed by the endpoint secret,
// of "<unix ts>.<event id>.<body>". Subscribers recompute it from the
// X-Timestamp and X-Event-ID headers and the raw body.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	msg := strconv.AppendInt(nil, ts, 10)
	msg = append(msg, '.')
	msg = append(msg, eventID...)
	msg = append(msg, '.')
	msg = append(msg, body...)
	_, _ = mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks sig against the expected signature in constant time.
func VerifySignature(secret string, ts int64, eventID string, body []byte, sig string) bool {
	return hmac.Equal([]byte(ComputeSignature(secret, ts, eventID, body)), []byte(sig))
}

// HTTPClient returns an http.Client for webhook delivery with tracing on the
// transport.
func HTTPClient(timeout time.Duration, insecure bool) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	transport := &http.Transport{}
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}

// ParseEndpoints reads "url|secret|topic1,topic2" entries separated by
// semicolons. Secret and topics are optional.
func ParseEndpoints(raw string) []Endpoint {
	var out []Endpoint
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "|", 3)
		ep := Endpoint{URL: strings.TrimSpace(parts[0])}
		if len(parts) > 1 {
			ep.Secret = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			for _, t := range strings.Split(parts[2], ",") {
				if t = strings.TrimSpace(t); t != "" {
					ep.Topics = append(ep.Topics, t)
				}
			}
		}
		out = append(out, ep)
	}
	return out
}

func deliveryKey(ep Endpoint, ev events.Event) string {
	return common.ScopedKey("webhook:delivered", ep.URL, ev.ID.String())
}
