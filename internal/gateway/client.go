// Package gateway talks to the MoneyFusion HTTP API.
package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"moneyfusion/internal/config"
	"moneyfusion/internal/domain"
)

const (
	tlsModeVerified = "verified"
	tlsModeInsecure = "insecure"
)

// Client performs create-payment and check-payment calls with the configured
// timeout, retry policy and TLS mode.
type Client struct {
	http     *resty.Client
	apiURL   string
	checkURL string
	tlsMode  string
	limiter  *rate.Limiter
	logger   *zap.Logger
}

func NewClient(cfg config.GatewayConfig, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	if cfg.RetryEnabled && cfg.RetryTimes > 0 {
		httpClient.
			SetRetryCount(cfg.RetryTimes).
			SetRetryWaitTime(cfg.RetrySleep).
			SetRetryMaxWaitTime(cfg.RetrySleep).
			AddRetryCondition(isTransient)
	}

	tlsMode := tlsModeVerified
	if !cfg.VerifyTLS {
		tlsMode = tlsModeInsecure
		httpClient.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec
		logger.Warn("MoneyFusion TLS certificate verification is disabled", zap.String("tls_mode", tlsMode))
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		http:     httpClient,
		apiURL:   cfg.APIURL,
		checkURL: cfg.CheckURL,
		tlsMode:  tlsMode,
		limiter:  limiter,
		logger:   logger,
	}
}

// Create registers a new payment with the gateway. A response the gateway
// marks as unsuccessful, or one without token and url, is an ErrGateway.
func (c *Client) Create(ctx context.Context, payload CreatePayload) (*CreateResponse, error) {
	body, err := c.do(ctx, http.MethodPost, c.apiURL, payload)
	if err != nil {
		return nil, err
	}

	var out CreateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed create-payment response: %v", domain.ErrGateway, err)
	}
	if err := json.Unmarshal(body, &out.Raw); err != nil {
		return nil, fmt.Errorf("%w: malformed create-payment response: %v", domain.ErrGateway, err)
	}
	if !out.OK() {
		msg := out.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("%w: payment creation refused: %s", domain.ErrGateway, msg)
	}
	if out.Token == "" || out.URL == "" {
		return nil, fmt.Errorf("%w: create-payment response is missing token or url", domain.ErrGateway)
	}
	return &out, nil
}

// Check fetches the gateway's view of a payment.
func (c *Client) Check(ctx context.Context, token string) (*CheckResponse, error) {
	body, err := c.do(ctx, http.MethodGet, c.CheckURL(token), nil)
	if err != nil {
		return nil, err
	}

	var out CheckResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed check-payment response: %v", domain.ErrGateway, err)
	}
	if err := json.Unmarshal(body, &out.Raw); err != nil {
		return nil, fmt.Errorf("%w: malformed check-payment response: %v", domain.ErrGateway, err)
	}
	if out.Data == nil {
		return nil, fmt.Errorf("%w: check-payment response has no data", domain.ErrGateway)
	}
	return &out, nil
}

// CheckURL derives the check-payment URL for a token, either from the
// configured check base URL or by rewriting the create-payment URL.
func (c *Client) CheckURL(token string) string {
	if c.checkURL != "" {
		return strings.TrimRight(c.checkURL, "/") + "/" + token
	}
	if strings.Contains(c.apiURL, "/create-payment") {
		return strings.Replace(c.apiURL, "/create-payment", "/check-payment/"+token, 1)
	}
	return strings.TrimRight(c.apiURL, "/") + "/check-payment/" + token
}

func (c *Client) do(ctx context.Context, method, url string, body any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w: rate limiter: %v", domain.ErrGateway, domain.ErrNetwork, err)
		}
	}

	c.logger.Debug("Calling MoneyFusion",
		zap.String("method", method),
		zap.String("url", url),
		zap.String("tls_mode", c.tlsMode),
	)
	if c.tlsMode == tlsModeInsecure {
		c.logger.Warn("MoneyFusion call without TLS verification",
			zap.String("url", url),
			zap.String("tls_mode", c.tlsMode),
		)
	}

	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, url)
	if err != nil {
		c.logger.Error("MoneyFusion call failed",
			zap.String("url", url),
			zap.String("tls_mode", c.tlsMode),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w: %v", domain.ErrGateway, domain.ErrNetwork, err)
	}

	if resp.IsError() || resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		c.logger.Error("MoneyFusion returned an error status",
			zap.String("url", url),
			zap.Int("status_code", resp.StatusCode()),
			zap.ByteString("body", resp.Body()),
		)
		return nil, fmt.Errorf("%w: unexpected status %d: %s", domain.ErrGateway, resp.StatusCode(), truncate(resp.String(), 256))
	}
	return resp.Body(), nil
}

// isTransient retries network failures and upstream unavailability, never a
// client error.
func isTransient(resp *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	if resp == nil {
		return false
	}
	switch resp.StatusCode() {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
