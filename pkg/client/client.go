// Package client is a Go client for the enforcer HTTP API. Use it to
// publish policy datums, run pre-submission validation, and decode datums
// without speaking CBOR directly.
package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"spal/pkg/models"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	AuthToken  string
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// PublishPolicyRequest mirrors the POST /v1/policies body.
type PublishPolicyRequest struct {
	ID                string                 `json:"id,omitempty"`
	OwnerPKH          string                 `json:"owner_pkh"`
	MinPayment        uint64                 `json:"min_payment"`
	MaxRetentionMs    uint64                 `json:"max_retention_ms"`
	IdentityLinkage   models.IdentityLinkage `json:"identity_linkage"`
	RequiredProofHash string                 `json:"required_proof_hash,omitempty"`
	ContextScope      string                 `json:"context_scope"`
	Anchor            string                 `json:"anchor,omitempty"`
}

// PolicyView is the server's rendering of a published policy.
type PolicyView struct {
	ID                string                 `json:"id"`
	OwnerPKH          string                 `json:"owner_pkh"`
	MinPayment        uint64                 `json:"min_payment"`
	MaxRetentionMs    uint64                 `json:"max_retention_ms"`
	IdentityLinkage   models.IdentityLinkage `json:"identity_linkage"`
	RequiredProofHash string                 `json:"required_proof_hash,omitempty"`
	ContextScope      string                 `json:"context_scope"`
	Datum             string                 `json:"datum"`
	Anchor            string                 `json:"anchor,omitempty"`
}

// Decision is the validation verdict. Valid=false is an expected answer,
// not a transport error.
type Decision struct {
	DecisionID string `json:"decision_id"`
	Valid      bool   `json:"valid"`
	Reason     string `json:"reason,omitempty"`
}

func (c *Client) PublishPolicy(ctx context.Context, req PublishPolicyRequest) (PolicyView, error) {
	var out PolicyView
	err := c.post(ctx, "/v1/policies", req, &out)
	return out, err
}

func (c *Client) GetPolicy(ctx context.Context, id string) (PolicyView, error) {
	var out PolicyView
	err := c.get(ctx, "/v1/policies/"+id, &out)
	return out, err
}

func (c *Client) ListPolicies(ctx context.Context, ownerPKH string) ([]string, error) {
	var out struct {
		IDs []string `json:"ids"`
	}
	if err := c.get(ctx, "/v1/policies?owner="+ownerPKH, &out); err != nil {
		return nil, err
	}
	return out.IDs, nil
}

func (c *Client) DeletePolicy(ctx context.Context, id string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+"/v1/policies/"+id, nil)
	if err != nil {
		return err
	}
	c.applyAuth(httpReq)
	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("delete policy failed status=%d body=%s", resp.StatusCode, string(respBody))
	}
	return nil
}

// ValidateByID validates a request against a policy the enforcer already
// holds.
func (c *Client) ValidateByID(ctx context.Context, policyID string, req models.AccessRequest) (Decision, error) {
	var out Decision
	err := c.post(ctx, "/v1/validate", map[string]interface{}{
		"policy_id": policyID,
		"request":   req,
	}, &out)
	return out, err
}

// ValidateDatum validates raw datum bytes against a request without
// publishing the policy first.
func (c *Client) ValidateDatum(ctx context.Context, datum []byte, req models.AccessRequest) (Decision, error) {
	var out Decision
	err := c.post(ctx, "/v1/validate", map[string]interface{}{
		"datum":   hex.EncodeToString(datum),
		"request": req,
	}, &out)
	return out, err
}

// ValidateWire validates a datum/redeemer pair exactly as the chain would
// see it.
func (c *Client) ValidateWire(ctx context.Context, datum, redeemer []byte) (Decision, error) {
	var out Decision
	err := c.post(ctx, "/v1/validate", map[string]string{
		"datum":    hex.EncodeToString(datum),
		"redeemer": hex.EncodeToString(redeemer),
	}, &out)
	return out, err
}

// DecodeDatum asks the enforcer to decode datum bytes into a readable view.
func (c *Client) DecodeDatum(ctx context.Context, datum []byte) (PolicyView, error) {
	var out PolicyView
	err := c.post(ctx, "/v1/decode", map[string]string{
		"datum": hex.EncodeToString(datum),
	}, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.applyAuth(httpReq)
	return c.do(httpReq, path, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	c.applyAuth(httpReq)
	return c.do(httpReq, path, out)
}

func (c *Client) do(httpReq *http.Request, path string, out interface{}) error {
	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s failed status=%d body=%s", path, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return err
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 5 * time.Second}
}

func (c *Client) applyAuth(req *http.Request) {
	if c.AuthToken == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.AuthToken))
}
