// Package licensing talks to the Lemon Squeezy license API. Calls are never
// retried; failures are returned with the provider's message intact.
package licensing

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultBaseURL  = "https://api.lemonsqueezy.com/v1"
	defaultTimeout  = 15 * time.Second
	maxResponseSize = 1 << 20
)

// ErrInvalidLicense is returned when the provider rejects a key without
// giving a reason.
var ErrInvalidLicense = errors.New("invalid license key")

// Error is a rejection reported by the provider. Its message is meant for
// the user as is.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

// License is the provider's view of a key after an API call.
type License struct {
	KeyID       string
	Status      string
	ExpiresAt   *time.Time
	VariantName string
	InstanceID  string
}

// Client is safe for concurrent use.
type Client struct {
	http    *http.Client
	baseURL string
}

// New creates a Client. If httpClient is nil, an instrumented default is used.
func New(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

type request struct {
	LicenseKey   string `json:"license_key"`
	InstanceName string `json:"instance_name,omitempty"`
	InstanceID   string `json:"instance_id,omitempty"`
}

type response struct {
	Activated   *bool   `json:"activated"`
	Valid       *bool   `json:"valid"`
	Deactivated *bool   `json:"deactivated"`
	Error       *string `json:"error"`
	LicenseKey  struct {
		ID        flexID     `json:"id"`
		Status    string     `json:"status"`
		ExpiresAt *time.Time `json:"expires_at"`
	} `json:"license_key"`
	Instance *struct {
		ID flexID `json:"id"`
	} `json:"instance"`
	Meta struct {
		VariantName string `json:"variant_name"`
	} `json:"meta"`
}

func (r *response) license() *License {
	l := &License{
		KeyID:       string(r.LicenseKey.ID),
		Status:      r.LicenseKey.Status,
		ExpiresAt:   r.LicenseKey.ExpiresAt,
		VariantName: r.Meta.VariantName,
	}
	if r.Instance != nil {
		l.InstanceID = string(r.Instance.ID)
	}
	return l
}

// flexID accepts identifiers encoded as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*f = flexID(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// Activate registers a new instance for key.
func (c *Client) Activate(ctx context.Context, key, instanceName string) (*License, error) {
	resp, err := c.call(ctx, "activate", request{LicenseKey: key, InstanceName: instanceName})
	if err != nil {
		return nil, err
	}
	if resp.Activated == nil || !*resp.Activated {
		return nil, ErrInvalidLicense
	}
	return resp.license(), nil
}

// Validate checks key, and instanceID when set, against the provider.
// A key the provider reports as invalid yields ErrInvalidLicense.
func (c *Client) Validate(ctx context.Context, key, instanceID string) (*License, error) {
	resp, err := c.call(ctx, "validate", request{LicenseKey: key, InstanceID: instanceID})
	if err != nil {
		return nil, err
	}
	if resp.Valid == nil || !*resp.Valid {
		return nil, ErrInvalidLicense
	}
	return resp.license(), nil
}

// Deactivate releases instanceID of key.
func (c *Client) Deactivate(ctx context.Context, key, instanceID string) error {
	resp, err := c.call(ctx, "deactivate", request{LicenseKey: key, InstanceID: instanceID})
	if err != nil {
		return err
	}
	if resp.Deactivated == nil || !*resp.Deactivated {
		return ErrInvalidLicense
	}
	return nil
}

func (c *Client) call(ctx context.Context, action string, body request) (*response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/licenses/"+action, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("license %s: %w", action, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("license %s: %w", action, err)
	}

	var resp response
	decodeErr := json.Unmarshal(raw, &resp)

	// The provider answers rejections with a 4xx status and an error message.
	if decodeErr == nil && resp.Error != nil && *resp.Error != "" {
		return nil, &Error{StatusCode: httpResp.StatusCode, Message: *resp.Error}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &Error{StatusCode: httpResp.StatusCode, Message: fmt.Sprintf("license %s failed: HTTP %d", action, httpResp.StatusCode)}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("license %s: decode response: %w", action, decodeErr)
	}
	return &resp, nil
}
