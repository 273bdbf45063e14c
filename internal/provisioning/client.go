// Package provisioning calls the privileged remote functions that create
// tenant entities on the hosted backend.
package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Remote function names.
const (
	FnCreateSuperAdmin    = "create-super-admin"
	FnCreateAdminComplete = "create-admin-complete"
	FnCreateOrganisation  = "create-organisation"
	FnCreateGarage        = "create-garage"
)

// Invoker runs a named remote function with a JSON payload and decodes the
// data part of the response into out (which may be nil).
type Invoker interface {
	Invoke(ctx context.Context, function string, payload interface{}, out interface{}) error
}

// RemoteError is a failure reported by the remote function itself. Message
// is shown to the user as is.
type RemoteError struct {
	Function string
	Status   int
	Message  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Function, e.Message)
}

// IsRemote reports whether err carries a RemoteError.
func IsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Client invokes functions at {baseURL}/functions/v1/{name}.
type Client struct {
	http       *retryablehttp.Client
	baseURL    string
	serviceKey string
	logger     *zap.Logger
}

func NewClient(httpClient *retryablehttp.Client, baseURL, serviceKey string, logger *zap.Logger) *Client {
	return &Client{
		http:       httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		logger:     logger,
	}
}

func (c *Client) Invoke(ctx context.Context, function string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", function, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/functions/v1/"+function, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", function, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.serviceKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceKey)
		req.Header.Set("apikey", c.serviceKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", function, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", function, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &RemoteError{Function: function, Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("failed to decode %s response: %w", function, err)
	}

	if !env.Success || resp.StatusCode >= http.StatusBadRequest {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		c.logger.Warn("Remote function failed",
			zap.String("function", function),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg))
		return &RemoteError{Function: function, Status: resp.StatusCode, Message: msg}
	}

	c.logger.Info("Remote function succeeded", zap.String("function", function))
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s data: %w", function, err)
		}
	}
	return nil
}
