package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"crewflow/pkg/api"
)

// ActionClient handles API calls to the crewflow controller.
type ActionClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewActionClient creates a new client with the given base URL and token.
func NewActionClient(baseURL, token string) *ActionClient {
	return &ActionClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends an authenticated JSON request and decodes a 2xx response into
// out. A nil body sends no payload; a nil out discards the response.
func (c *ActionClient) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// ProposeAction sends POST /actions.
func (c *ActionClient) ProposeAction(req api.ProposeActionRequest) (*api.ProposeActionResponse, error) {
	var result api.ProposeActionResponse
	if err := c.do(http.MethodPost, "/actions", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPending sends GET /actions.
func (c *ActionClient) ListPending(query string) ([]api.ActionResponse, error) {
	var result api.ListActionsResponse
	if err := c.do(http.MethodGet, "/actions"+query, nil, &result); err != nil {
		return nil, err
	}
	return result.Actions, nil
}

// ListHistory sends GET /actions/history.
func (c *ActionClient) ListHistory(query string) ([]api.ActionResponse, error) {
	var result api.ListActionsResponse
	if err := c.do(http.MethodGet, "/actions/history"+query, nil, &result); err != nil {
		return nil, err
	}
	return result.Actions, nil
}

// GetAction sends GET /actions/{id}.
func (c *ActionClient) GetAction(id string) (*api.ActionResponse, error) {
	var result api.ActionResponse
	if err := c.do(http.MethodGet, "/actions/"+id, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelAction sends POST /actions/{id}/cancel.
func (c *ActionClient) CancelAction(id string, req api.CancelActionRequest) (*api.ActionResponse, error) {
	var result api.ActionResponse
	if err := c.do(http.MethodPost, "/actions/"+id+"/cancel", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TriggerAction sends POST /actions/{id}/trigger.
func (c *ActionClient) TriggerAction(id string) (*api.ActionResponse, error) {
	var result api.ActionResponse
	if err := c.do(http.MethodPost, "/actions/"+id+"/trigger", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetAudit sends GET /actions/{id}/audit.
func (c *ActionClient) GetAudit(id string) ([]api.AuditEventResponse, error) {
	var result api.GetAuditResponse
	if err := c.do(http.MethodGet, "/actions/"+id+"/audit", nil, &result); err != nil {
		return nil, err
	}
	return result.Events, nil
}

// ListApprovals sends GET /approvals.
func (c *ActionClient) ListApprovals() ([]api.ApprovalResponse, error) {
	var result api.ListApprovalsResponse
	if err := c.do(http.MethodGet, "/approvals", nil, &result); err != nil {
		return nil, err
	}
	return result.Approvals, nil
}

// RespondApproval sends POST /approvals/{id}/respond.
func (c *ActionClient) RespondApproval(id string, req api.RespondApprovalRequest) error {
	return c.do(http.MethodPost, "/approvals/"+id+"/respond", req, nil)
}

// ApprovalStats sends GET /approvals/stats.
func (c *ActionClient) ApprovalStats() (*api.ApprovalStatsResponse, error) {
	var result api.ApprovalStatsResponse
	if err := c.do(http.MethodGet, "/approvals/stats", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateUser sends POST /users.
func (c *ActionClient) CreateUser(req api.CreateUserRequest) (*api.CreateUserResponse, error) {
	var result api.CreateUserResponse
	if err := c.do(http.MethodPost, "/users", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
