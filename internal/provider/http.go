package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/number-verification/internal/metrics"
)

const (
	verifyPath       = "/verify"
	deviceNumberPath = "/device-phone-number"
)

type HTTPProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	br      *MicroBreaker
}

var _ Provider = (*HTTPProvider)(nil)

type HTTPOptions struct {
	Name          string
	BaseURL       string
	APIKey        string
	Timeout       time.Duration // per request, default 3s
	FailThreshold int           // default 3
	OpenFor       time.Duration // default 15s
}

func NewHTTPProvider(opts HTTPOptions) *HTTPProvider {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = 3
	}
	if opts.OpenFor <= 0 {
		opts.OpenFor = 15 * time.Second
	}
	if opts.Name == "" {
		opts.Name = "telecom"
	}

	return &HTTPProvider{
		name:    opts.Name,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		client:  &http.Client{Timeout: opts.Timeout},
		br:      NewMicroBreaker(opts.FailThreshold, opts.OpenFor),
	}
}

func (p *HTTPProvider) Name() string { return p.name }

type verifyReq struct {
	MSISDN string `json:"msisdn"`
}

type verifyResp struct {
	Match *bool `json:"match"`
}

type deviceNumberResp struct {
	PhoneNumber string `json:"phoneNumber"`
}

func (p *HTTPProvider) VerifyMatch(ctx context.Context, phoneNumber string) (bool, error) {
	b, err := json.Marshal(verifyReq{MSISDN: phoneNumber})
	if err != nil {
		return false, err
	}

	var out verifyResp
	if err := p.call(ctx, "verify", http.MethodPost, verifyPath, b, &out); err != nil {
		return false, err
	}
	if out.Match == nil {
		return false, fmt.Errorf("provider=%s path=%s: response missing match", p.name, verifyPath)
	}
	return *out.Match, nil
}

// DeviceNumber returns "" without error when the operator knows no number;
// the caller decides what an empty answer means.
func (p *HTTPProvider) DeviceNumber(ctx context.Context) (string, error) {
	var out deviceNumberResp
	if err := p.call(ctx, "retrieve", http.MethodGet, deviceNumberPath, nil, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.PhoneNumber), nil
}

func (p *HTTPProvider) call(ctx context.Context, op, method, path string, body []byte, out any) error {
	if !p.br.TryAcquire() {
		metrics.ProviderRequestDuration.WithLabelValues(op, "rejected").Observe(0)
		return fmt.Errorf("provider=%s: %w", p.name, ErrBreakerOpen)
	}

	start := time.Now()
	err := p.do(ctx, method, path, body, out)
	outcome := "ok"
	switch {
	case err == nil:
		p.br.OnSuccess()
	case errors.Is(ctx.Err(), context.Canceled):
		// caller went away; deadlines still count against the provider
		outcome = "cancelled"
		p.br.OnAbandon()
	default:
		outcome = "error"
		p.br.OnFailure()
	}
	metrics.ProviderRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())

	return err
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, rdr)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("provider=%s path=%s status=%d", p.name, path, res.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(res.Body, 64<<10)).Decode(out); err != nil {
		return fmt.Errorf("provider=%s path=%s decode: %w", p.name, path, err)
	}
	return nil
}
