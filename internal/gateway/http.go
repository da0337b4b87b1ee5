// Package gateway provides payment.Gateway implementations.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/kiosk-core/internal/domain/payment"
	"github.com/xenking/kiosk-core/internal/wire"
)

// HTTPConfig configures an HTTPGateway.
type HTTPConfig struct {
	// BaseURL of the payment provider, e.g. https://pay.example.com/v1.
	BaseURL string
	// CallbackURL is where the provider posts verdicts.
	CallbackURL string
	Timeout     time.Duration
}

var _ payment.Gateway = (*HTTPGateway)(nil)

// HTTPGateway submits charges to a remote provider over HTTP. Verdicts come
// back asynchronously through the callback URL.
type HTTPGateway struct {
	base        *url.URL
	callbackURL string
	client      *http.Client
}

// NewHTTPGateway creates an HTTPGateway with an instrumented client.
func NewHTTPGateway(cfg HTTPConfig, tp trace.TracerProvider, mp metric.MeterProvider) (*HTTPGateway, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse gateway url")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("gateway url %q is not absolute", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPGateway{
		base:        base,
		callbackURL: cfg.CallbackURL,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(tp),
				otelhttp.WithMeterProvider(mp),
			),
		},
	}, nil
}

// Charge implements payment.Gateway. A non-2xx response is a submission
// failure.
func (g *HTTPGateway) Charge(ctx context.Context, req payment.ChargeRequest) error {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	wire.EncodeChargeRequest(e, req, g.callbackURL)
	return g.post(ctx, g.base.JoinPath("charges").String(), e.Bytes())
}

// Void implements payment.Gateway.
func (g *HTTPGateway) Void(ctx context.Context, transactionID string) error {
	return g.post(ctx, g.base.JoinPath("charges", transactionID, "void").String(), nil)
}

func (g *HTTPGateway) post(ctx context.Context, target string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return &payment.GatewayError{Reason: fmt.Sprintf("send: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &payment.GatewayError{Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
