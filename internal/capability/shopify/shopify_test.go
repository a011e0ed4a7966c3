package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"crewflow/internal/executor"
)

// testClient routes requests to the test server regardless of the
// shop domain in the URL.
func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	proxy := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			target, _ := url.Parse(srv.URL)
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			return http.DefaultTransport.RoundTrip(req)
		}),
	}
	return NewClient("acme.myshopify.com", "token-123", WithHTTPClient(proxy))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func TestCallSuccess(t *testing.T) {
	var gotToken, gotPath string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Shopify-Access-Token")
		gotPath = r.URL.Path
		w.Write([]byte(`{"product":{"id":1}}`))
	})

	result, err := c.Call(context.Background(), http.MethodGet, "/products/1.json", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != `{"product":{"id":1}}` {
		t.Errorf("unexpected result: %s", result)
	}
	if gotToken != "token-123" {
		t.Errorf("access token not sent, got %q", gotToken)
	}
	if gotPath != "/admin/api/"+DefaultAPIVersion+"/products/1.json" {
		t.Errorf("unexpected path %q", gotPath)
	}
}

func TestCallRateLimitedIsRetryable(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2.0")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Call(context.Background(), http.MethodGet, "/products.json", nil)
	var execErr *executor.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if !execErr.Retryable || execErr.Kind != executor.KindRateLimited {
		t.Errorf("429 must be retryable rate_limited, got %+v", execErr)
	}
	if !strings.Contains(execErr.Error(), "retry after 2.0s") {
		t.Errorf("retry-after hint missing: %v", execErr)
	}
}

func TestCallServerErrorIsRetryable(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Call(context.Background(), http.MethodGet, "/products.json", nil)
	if !executor.Retryable(err) {
		t.Errorf("5xx must be retryable, got %v", err)
	}
}

func TestCallClientErrorsAreTerminal(t *testing.T) {
	cases := []struct {
		status int
		kind   executor.ErrorKind
	}{
		{http.StatusUnauthorized, executor.KindPermissionDenied},
		{http.StatusForbidden, executor.KindPermissionDenied},
		{http.StatusNotFound, executor.KindNotFound},
		{http.StatusUnprocessableEntity, executor.KindValidation},
	}

	for _, tc := range cases {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})

		_, err := c.Call(context.Background(), http.MethodPost, "/products.json", json.RawMessage(`{}`))
		var execErr *executor.ExecutionError
		if !errors.As(err, &execErr) {
			t.Fatalf("status %d: expected ExecutionError, got %v", tc.status, err)
		}
		if execErr.Retryable {
			t.Errorf("status %d must be terminal", tc.status)
		}
		if execErr.Kind != tc.kind {
			t.Errorf("status %d: expected kind %s, got %s", tc.status, tc.kind, execErr.Kind)
		}
	}
}

func TestBindRendersPath(t *testing.T) {
	var gotPath, gotMethod string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.Write([]byte(`{}`))
	})

	cap := c.Bind(http.MethodPut, "/products/{product_id}.json")
	_, err := cap.Execute(context.Background(), json.RawMessage(`{"product_id":"42","price":"19.99"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("expected PUT, got %s", gotMethod)
	}
	if !strings.HasSuffix(gotPath, "/products/42.json") {
		t.Errorf("placeholder not rendered: %s", gotPath)
	}
}

func TestBindNumericPlaceholder(t *testing.T) {
	path, err := renderPath("/orders/{order_id}/fulfillments.json", json.RawMessage(`{"order_id":9001}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/orders/9001/fulfillments.json" {
		t.Errorf("unexpected path %q", path)
	}
}

func TestBindMissingFieldIsTerminal(t *testing.T) {
	c := NewClient("acme.myshopify.com", "token")
	cap := c.Bind(http.MethodPut, "/products/{product_id}.json")

	_, err := cap.Execute(context.Background(), json.RawMessage(`{"price":"19.99"}`))
	var execErr *executor.ExecutionError
	if !errors.As(err, &execErr) || execErr.Retryable {
		t.Errorf("missing path field must be terminal validation, got %v", err)
	}
}
