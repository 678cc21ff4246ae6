// Package carrier implements the typed HTTP client over the shipping
// carrier's JSON API, with OAuth2 token caching and bounded retry.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

// Client is the typed carrier API wrapper (port: domain.CarrierClient).
type Client struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	clientSecret string
	accountNum   string
	maxRetries   int
	log          *slog.Logger

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

var _ domain.CarrierClient = (*Client)(nil)

// Config is the subset of application configuration the carrier client needs.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	AccountNumber string
	Timeout      time.Duration
	MaxRetries   int
}

// New builds a Client.
func New(cfg Config, log *slog.Logger) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		baseURL:      cfg.BaseURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		accountNum:   cfg.AccountNumber,
		maxRetries:   cfg.MaxRetries,
		log:          log,
	}
}

// token returns a cached bearer token, refreshing it proactively when it is
// within 60 seconds of expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && time.Now().Add(60*time.Second).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := fmt.Sprintf("grant_type=client_credentials&client_id=%s&client_secret=%s", c.clientID, c.clientSecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/security/v1/oauth/token", bytes.NewBufferString(form))
	if err != nil {
		return "", fmt.Errorf("op=carrier.token.buildRequest: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=carrier.token.do: %w", domain.NewTaxonomyError("E-5001", err.Error()))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("op=carrier.token status=%d: %w", resp.StatusCode, domain.NewTaxonomyError("E-5001", ""))
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("op=carrier.token.decode: %w", err)
	}

	c.accessToken = body.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// doJSON performs a retried, authenticated JSON request. Transport errors,
// 5xx and 429 responses are retried within the MaxRetries budget. A 401
// clears the cached token, so the next attempt fetches a fresh one, and is
// retried within the same budget. Any other 4xx returns immediately, since
// it indicates a validation problem the caller must fix.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, idempotencyKey string, out any) error {
	operation := func() error {
		tok, err := c.token(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}

		var bodyReader io.Reader
		if reqBody != "" {
			bodyReader = bytes.NewBufferString(reqBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("op=carrier.doJSON.buildRequest: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Content-Type", "application/json")
		if idempotencyKey != "" {
			req.Header.Set("X-Idempotency-Key", idempotencyKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("op=carrier.doJSON.do: %w", err)
		}
		defer resp.Body.Close()

		raw, _ := io.ReadAll(resp.Body)

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			c.tokenMu.Lock()
			c.accessToken = ""
			c.tokenMu.Unlock()
			return fmt.Errorf("op=carrier.doJSON status=401: %w", domain.NewTaxonomyError("E-5002", ""))
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("op=carrier.doJSON status=429: %w", domain.NewTaxonomyError("E-3002", string(raw)))
		case resp.StatusCode >= 500:
			return fmt.Errorf("op=carrier.doJSON status=%d: %w", resp.StatusCode, domain.NewTaxonomyError("E-3001", string(raw)))
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("op=carrier.doJSON status=%d: %w", resp.StatusCode, translateClientError(raw)))
		}

		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return backoff.Permanent(fmt.Errorf("op=carrier.doJSON.unmarshal: %w", err))
			}
		}
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries))
	err := backoff.Retry(operation, backoff.WithContext(bo, ctx))
	if err != nil {
		c.log.Warn("op=carrier.doJSON.exhausted", slog.String("path", path), slog.Any("error", err))
		return err
	}
	return nil
}

// translateClientError maps a raw carrier error body to the stable taxonomy.
// It defaults to a generic carrier error when the body doesn't match a
// known pattern; VoidShipment and ShopRates reuse it for consistency.
func translateClientError(raw []byte) error {
	var body struct {
		Response struct {
			Errors []struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"errors"`
		} `json:"response"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Response.Errors) == 0 {
		return domain.NewTaxonomyError("E-3006", string(raw))
	}
	first := body.Response.Errors[0]
	switch {
	case first.Code == "120300" || first.Code == "9380200":
		return domain.NewTaxonomyError("E-3003", first.Message)
	case first.Code == "111285" || first.Code == "110308":
		return domain.NewTaxonomyError("E-3004", first.Message)
	case first.Code == "9120410":
		return domain.NewTaxonomyError("E-3005", first.Message)
	default:
		return domain.NewTaxonomyError("E-3006", first.Message)
	}
}
