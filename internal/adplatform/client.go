// Package adplatform is the client for the ad platform's offline click
// conversion upload API.
package adplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ignite/conversion-sync/internal/conversions"
	"github.com/ignite/conversion-sync/internal/domain"
	"github.com/ignite/conversion-sync/internal/pkg/httpretry"
	"github.com/ignite/conversion-sync/internal/pkg/logger"
)

// Config holds API endpoint settings.
type Config struct {
	BaseURL    string `yaml:"base_url"`
	APIVersion string `yaml:"api_version"`
	TokenURL   string `yaml:"token_url"`
	// LoginCustomerID is the manager account used when uploading to a
	// client account. Empty means the credentials' customer_id.
	LoginCustomerID string `yaml:"login_customer_id"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	MaxRetries      int    `yaml:"max_retries"`
	ValidateOnly    bool   `yaml:"validate_only"`
	// ConversionActions maps warehouse conversion names to action ids.
	// Names without an entry are used as the id verbatim.
	ConversionActions map[string]string `yaml:"conversion_actions"`
}

// Timeout returns the per-request timeout.
func (c Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Client uploads conversions for one customer account. It implements
// conversions.Client and is safe for concurrent use.
type Client struct {
	httpClient      httpretry.HTTPDoer
	baseURL         string
	apiVersion      string
	customerID      string
	developerToken  string
	loginCustomerID string
	validateOnly    bool
	actions         map[string]string
}

// NewClient creates a client for customerID. httpClient must already
// authorize requests.
func NewClient(httpClient httpretry.HTTPDoer, cfg Config, customerID, developerToken string) *Client {
	return &Client{
		httpClient:      httpClient,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion:      cfg.APIVersion,
		customerID:      customerID,
		developerToken:  developerToken,
		loginCustomerID: strings.ReplaceAll(cfg.LoginCustomerID, "-", ""),
		validateOnly:    cfg.ValidateOnly,
		actions:         cfg.ConversionActions,
	}
}

// CustomerID returns the account the client uploads to.
func (c *Client) CustomerID() string { return c.customerID }

// ConversionAction returns the resource name for a conversion action.
func (c *Client) ConversionAction(name string) string {
	id := name
	if mapped, ok := c.actions[name]; ok {
		id = mapped
	}
	return fmt.Sprintf("customers/%s/conversionActions/%s", c.customerID, id)
}

// Upload sends batch with partial failure enabled and normalizes the
// response to batch positions. HTTP and decoding failures come back as
// *conversions.TransportError.
func (c *Client) Upload(ctx context.Context, batch []domain.MappedEvent) (*conversions.UploadResponse, error) {
	body, err := json.Marshal(uploadRequest{
		Conversions:    toWire(batch),
		PartialFailure: true,
		ValidateOnly:   c.validateOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding upload request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/customers/%s:uploadClickConversions", c.baseURL, c.apiVersion, c.customerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &conversions.TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("developer-token", c.developerToken)
	if c.loginCustomerID != "" {
		req.Header.Set("login-customer-id", c.loginCustomerID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &conversions.TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &conversions.TransportError{Status: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &conversions.TransportError{Status: resp.StatusCode, Err: apiError(respBody)}
	}

	var out uploadResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &conversions.TransportError{Status: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}

	normalized := normalize(len(batch), out)
	logger.Debug("adplatform: upload complete",
		"customer_id", c.customerID,
		"submitted", len(batch),
		"errors", len(normalized.Errors),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return normalized, nil
}

func toWire(batch []domain.MappedEvent) []clickConversion {
	out := make([]clickConversion, len(batch))
	for i, ev := range batch {
		ids := make([]userIdentifier, 0, len(ev.UserIdentifiers))
		for _, u := range ev.UserIdentifiers {
			ids = append(ids, userIdentifier{HashedEmail: u.HashedEmail, HashedPhoneNumber: u.HashedPhoneNumber})
		}
		out[i] = clickConversion{
			Gclid:              ev.Gclid,
			Gbraid:             ev.Gbraid,
			Wbraid:             ev.Wbraid,
			ConversionAction:   ev.ConversionAction,
			ConversionDateTime: ev.ConversionDateTime,
			ConversionValue:    ev.ConversionValue,
			CurrencyCode:       ev.CurrencyCode,
			OrderID:            ev.OrderID,
			UserIdentifiers:    ids,
		}
	}
	return out
}

// normalize maps results and partial failure details onto batch positions.
// An empty result object marks a failed position. Errors that do not point
// at a conversions index are batch level and dropped here; the positions
// they affected still come back rejected.
func normalize(n int, out uploadResponse) *conversions.UploadResponse {
	res := &conversions.UploadResponse{Accepted: make([]bool, n)}
	for i := 0; i < n && i < len(out.Results); i++ {
		r := out.Results[i]
		res.Accepted[i] = r.ConversionAction != "" || r.Gclid != "" || r.Gbraid != "" || r.Wbraid != ""
	}
	if out.PartialFailureError == nil {
		return res
	}

	for _, d := range out.PartialFailureError.Details {
		for _, e := range d.Errors {
			idx, ok := conversionIndex(e.Location)
			if !ok {
				logger.Warn("adplatform: batch level upload error", "message", e.Message)
				continue
			}
			res.Errors = append(res.Errors, conversions.PositionError{
				Index:   idx,
				Code:    errorCode(e.ErrorCode),
				Message: e.Message,
			})
		}
	}
	return res
}

func conversionIndex(loc *errorLocation) (int, bool) {
	if loc == nil {
		return 0, false
	}
	for _, el := range loc.FieldPathElements {
		if el.FieldName == "conversions" && el.Index != nil {
			return *el.Index, true
		}
	}
	return 0, false
}

// errorCode returns the enum value of a single-entry errorCode object.
func errorCode(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return m[keys[0]]
}

func apiError(body []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return errors.New(env.Error.Message)
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		s = s[:512]
	}
	if s == "" {
		s = "empty response body"
	}
	return errors.New(s)
}
