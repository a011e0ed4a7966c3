// Package shopify adapts the Shopify Admin REST API to the capability
// interface, normalizing HTTP failures into retryable/terminal classes.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crewflow/internal/capability"
	"crewflow/internal/executor"
)

// DefaultAPIVersion pins the Admin API version all capabilities call.
const DefaultAPIVersion = "2024-01"

// Client is a minimal Shopify Admin REST client.
type Client struct {
	shopDomain  string
	accessToken string
	apiVersion  string
	httpClient  *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIVersion overrides the Admin API version.
func WithAPIVersion(v string) ClientOption {
	return func(c *Client) { c.apiVersion = v }
}

// NewClient creates a client for one shop. shopDomain is the full
// myshopify domain, e.g. "acme.myshopify.com".
func NewClient(shopDomain, accessToken string, opts ...ClientOption) *Client {
	c := &Client{
		shopDomain:  shopDomain,
		accessToken: accessToken,
		apiVersion:  DefaultAPIVersion,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call performs one Admin API request and classifies the outcome.
func (c *Client) Call(ctx context.Context, method, path string, payload json.RawMessage) (json.RawMessage, error) {
	url := fmt.Sprintf("https://%s/admin/api/%s%s", c.shopDomain, c.apiVersion, path)

	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, executor.NewTerminal(executor.KindValidation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, executor.NewRetryable(executor.KindTimeout, err)
		}
		return nil, executor.NewRetryable(executor.KindNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, executor.NewRetryable(executor.KindNetwork, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if len(respBody) == 0 {
			respBody = []byte(`{}`)
		}
		return respBody, nil
	}
	return nil, classify(resp, respBody)
}

// classify maps Admin API failure statuses to execution error classes.
// Rate limits and server-side faults are transient; client-side faults
// cannot succeed on retry.
func classify(resp *http.Response, body []byte) error {
	err := fmt.Errorf("shopify returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := resp.Header.Get("Retry-After")
		if retryAfter != "" {
			if secs, parseErr := strconv.ParseFloat(retryAfter, 64); parseErr == nil {
				err = fmt.Errorf("rate limited, retry after %.1fs: %w", secs, err)
			}
		}
		return executor.NewRetryable(executor.KindRateLimited, err)
	case resp.StatusCode == http.StatusRequestTimeout:
		return executor.NewRetryable(executor.KindTimeout, err)
	case resp.StatusCode >= 500:
		return executor.NewRetryable(executor.KindNetwork, err)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return executor.NewTerminal(executor.KindPermissionDenied, err)
	case resp.StatusCode == http.StatusNotFound:
		return executor.NewTerminal(executor.KindNotFound, err)
	default:
		return executor.NewTerminal(executor.KindValidation, err)
	}
}

// Bind returns a capability that renders pathTemplate from actionData and
// sends the payload to the Admin API. Template placeholders like
// {product_id} are substituted with the matching actionData field.
//
//	client.Bind(http.MethodPut, "/products/{product_id}.json")
func (c *Client) Bind(method, pathTemplate string) capability.Capability {
	return capability.Func(func(ctx context.Context, actionData json.RawMessage) (json.RawMessage, error) {
		path, err := renderPath(pathTemplate, actionData)
		if err != nil {
			return nil, executor.NewTerminal(executor.KindValidation, err)
		}
		return c.Call(ctx, method, path, actionData)
	})
}

// renderPath substitutes {field} placeholders with actionData values.
func renderPath(template string, actionData json.RawMessage) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(actionData, &fields); err != nil {
		return "", fmt.Errorf("action data is not an object: %w", err)
	}

	var out strings.Builder
	rest := template
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			out.WriteString(rest)
			return out.String(), nil
		}
		closing := strings.Index(rest[open:], "}")
		if closing < 0 {
			return "", fmt.Errorf("unterminated placeholder in %q", template)
		}

		out.WriteString(rest[:open])
		name := rest[open+1 : open+closing]
		raw, ok := fields[name]
		if !ok {
			return "", fmt.Errorf("action data missing field %q for path %q", name, template)
		}

		var asString string
		if err := json.Unmarshal(raw, &asString); err != nil {
			var asNumber json.Number
			if err := json.Unmarshal(raw, &asNumber); err != nil {
				return "", fmt.Errorf("field %q is not a string or number", name)
			}
			asString = asNumber.String()
		}
		out.WriteString(asString)
		rest = rest[open+closing+1:]
	}
}
