// Package marketplace is the client for the marketplace Quote API: per-item
// shipping options and listing attributes.
package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

// Client defaults.
const (
	DefaultTimeout           = 15 * time.Second
	DefaultRequestsPerSecond = 5.0
	maxBodyBytes             = 4 << 20
)

// Config configures the Quote API client.
type Config struct {
	BaseURL           string
	AccessToken       string
	Timeout           time.Duration
	RequestsPerSecond float64
	UserAgent         string
}

// Client is the REST client for the Quote API. Requests are paced by a token
// bucket so bulk runs stay under the provider's rate limit.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "freightquote/1.0"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.AccessToken,
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

// Quote returns the shipping options of listingID for a destination postal
// code. The raw body is kept for debug archiving.
func (c *Client) Quote(ctx context.Context, listingID, destination string) (domain.QuoteResponse, error) {
	params := url.Values{}
	params.Set("zip_code", destination)
	path := fmt.Sprintf("/items/%s/shipping_options?%s", url.PathEscape(listingID), params.Encode())

	body, err := c.doGet(ctx, path)
	if err != nil {
		return domain.QuoteResponse{}, fmt.Errorf("marketplace: quote %s/%s: %w", listingID, destination, err)
	}

	var payload APIShippingOptions
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.QuoteResponse{}, fmt.Errorf("marketplace: decode shipping options %s: %w", listingID, err)
	}

	opts := make([]domain.RawQuoteOption, 0, len(payload.Options))
	for _, o := range payload.Options {
		opts = append(opts, o.ToDomain())
	}
	return domain.QuoteResponse{Options: opts, Raw: body}, nil
}

// GetListing returns the listing's shipping attributes.
func (c *Client) GetListing(ctx context.Context, listingID string) (domain.Listing, error) {
	body, err := c.doGet(ctx, "/items/"+url.PathEscape(listingID))
	if err != nil {
		return domain.Listing{}, fmt.Errorf("marketplace: get item %s: %w", listingID, err)
	}

	var item APIItem
	if err := json.Unmarshal(body, &item); err != nil {
		return domain.Listing{}, fmt.Errorf("marketplace: decode item %s: %w", listingID, err)
	}
	if item.ID == "" {
		item.ID = flexString(listingID)
	}
	return item.ToDomain(), nil
}

// doGet sends an authenticated GET after waiting for the rate limiter.
// Network failures and 5xx responses wrap domain.ErrTransport.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrTransport, err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	msg := apiMessage(body)
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: %s", domain.ErrTransport, domain.ErrRateLimited, msg)
	case statusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(msg), "zip"):
		return fmt.Errorf("%w: %s", domain.ErrInvalidDestination, msg)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransport, statusCode, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}

// apiMessage extracts the "message" field of an error body, falling back to
// the truncated raw body.
func apiMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
