// Package client is a thin typed client for the skyport API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/skyporthq/skyport/pkg/types"
)

type Client struct {
	base  string
	http  *http.Client
	token string
}

func New(base, token string) *Client {
	return &Client{base: strings.TrimRight(base, "/"), http: http.DefaultClient, token: token}
}

// WithHTTPClient swaps the underlying http.Client, e.g. to set a timeout.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var br *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		br = bytes.NewReader(b)
	} else {
		br = bytes.NewReader(nil)
	}
	u, err := url.Parse(c.base + path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), br)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var apiErr apiError
		if derr := json.NewDecoder(resp.Body).Decode(&apiErr); derr == nil && apiErr.Message != "" {
			return fmt.Errorf("%s: %s (%s)", resp.Status, apiErr.Message, apiErr.Code)
		}
		return fmt.Errorf("status %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// AccountList is the response of ListAccounts; Degraded marks a cache-only
// read taken while the remote store was unreachable.
type AccountList struct {
	Accounts []types.Account `json:"accounts"`
	Degraded bool            `json:"degraded"`
}

// ConnectAccount carries the credential bundle once; it is never returned.
type ConnectAccount struct {
	Name        string              `json:"name"`
	Provider    types.CloudProvider `json:"provider"`
	Credentials map[string]string   `json:"credentials"`
	Metadata    map[string]string   `json:"metadata,omitempty"`
}

type ConnectedAccount struct {
	Account  types.Account `json:"account"`
	Degraded bool          `json:"degraded"`
}

type MutationResult struct {
	Success  bool   `json:"success"`
	Degraded bool   `json:"degraded,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (c *Client) ListAccounts(ctx context.Context) (AccountList, error) {
	var v AccountList
	err := c.do(ctx, http.MethodGet, "/api/v1/accounts", nil, &v)
	return v, err
}

func (c *Client) Connect(ctx context.Context, req ConnectAccount) (ConnectedAccount, error) {
	var v ConnectedAccount
	err := c.do(ctx, http.MethodPost, "/api/v1/accounts", req, &v)
	return v, err
}

func (c *Client) GetAccount(ctx context.Context, id string) (types.Account, error) {
	var v types.Account
	err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+id, nil, &v)
	return v, err
}

func (c *Client) DeleteAccount(ctx context.Context, id string) (MutationResult, error) {
	var v MutationResult
	err := c.do(ctx, http.MethodDelete, "/api/v1/accounts/"+id, nil, &v)
	return v, err
}

func (c *Client) SyncAccount(ctx context.Context, id string) (MutationResult, error) {
	var v MutationResult
	err := c.do(ctx, http.MethodPost, "/api/v1/accounts/"+id+":sync", nil, &v)
	return v, err
}

func (c *Client) TestAccount(ctx context.Context, id string) error {
	var v struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/accounts/"+id+":test", nil, &v); err != nil {
		return err
	}
	if !v.OK {
		return fmt.Errorf("connection test failed: %s", v.Error)
	}
	return nil
}

type ResourceList struct {
	Resources []types.Resource `json:"resources"`
}

type ProvisionRequest struct {
	Type   string            `json:"type"`
	Name   string            `json:"name"`
	Region string            `json:"region,omitempty"`
	Size   string            `json:"size,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
	Extra  map[string]any    `json:"extra,omitempty"`
}

func (c *Client) ListResources(ctx context.Context, accountID string) ([]types.Resource, error) {
	var v ResourceList
	err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+accountID+"/resources", nil, &v)
	return v.Resources, err
}

func (c *Client) Provision(ctx context.Context, accountID string, req ProvisionRequest) (types.Resource, error) {
	var v types.Resource
	err := c.do(ctx, http.MethodPost, "/api/v1/accounts/"+accountID+"/resources", req, &v)
	return v, err
}

func (c *Client) GetResource(ctx context.Context, id string) (types.Resource, error) {
	var v types.Resource
	err := c.do(ctx, http.MethodGet, "/api/v1/resources/"+id, nil, &v)
	return v, err
}

// ActionResult reports a lifecycle action; the resource is in its transient
// state until the transition settles server-side.
type ActionResult struct {
	Resource types.Resource `json:"resource"`
	Degraded bool           `json:"degraded,omitempty"`
}

func (c *Client) resourceAction(ctx context.Context, id, verb string) (ActionResult, error) {
	var v ActionResult
	err := c.do(ctx, http.MethodPost, "/api/v1/resources/"+id+":"+verb, nil, &v)
	return v, err
}

func (c *Client) StartResource(ctx context.Context, id string) (ActionResult, error) {
	return c.resourceAction(ctx, id, "start")
}

func (c *Client) StopResource(ctx context.Context, id string) (ActionResult, error) {
	return c.resourceAction(ctx, id, "stop")
}

func (c *Client) RestartResource(ctx context.Context, id string) (ActionResult, error) {
	return c.resourceAction(ctx, id, "restart")
}

func (c *Client) DeleteResource(ctx context.Context, id string) (ActionResult, error) {
	return c.resourceAction(ctx, id, "delete")
}

// Metrics reads the named series for a resource over the trailing window.
func (c *Client) Metrics(ctx context.Context, resourceID string, names []string, hours int) (MetricsResponse, error) {
	q := url.Values{}
	if len(names) > 0 {
		q.Set("names", strings.Join(names, ","))
	}
	if hours > 0 {
		q.Set("hours", strconv.Itoa(hours))
	}
	path := "/api/v1/resources/" + resourceID + "/metrics"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var v MetricsResponse
	err := c.do(ctx, http.MethodGet, path, nil, &v)
	return v, err
}

type MetricsResponse struct {
	Metrics  []types.MetricSeries `json:"metrics"`
	Degraded bool                 `json:"degraded"`
	Error    string               `json:"error,omitempty"`
}

type AggregateRequest struct {
	ResourceIDs []string  `json:"resourceIds"`
	Metric      string    `json:"metric"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

type AggregateResponse struct {
	Metric   string               `json:"metric"`
	Samples  []types.MetricSample `json:"samples"`
	Degraded bool                 `json:"degraded"`
}

func (c *Client) Aggregate(ctx context.Context, req AggregateRequest) (AggregateResponse, error) {
	var v AggregateResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/metrics:aggregate", req, &v)
	return v, err
}

type CostResponse struct {
	DailyCosts []types.DailyCost `json:"dailyCosts"`
	Total      float64           `json:"total"`
	Error      string            `json:"error,omitempty"`
}

func (c *Client) Costs(ctx context.Context, accountID string, rng types.TimeRange) (CostResponse, error) {
	q := url.Values{}
	if !rng.Start.IsZero() {
		q.Set("start", rng.Start.Format(time.RFC3339))
	}
	if !rng.End.IsZero() {
		q.Set("end", rng.End.Format(time.RFC3339))
	}
	path := "/api/v1/accounts/" + accountID + "/costs"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var v CostResponse
	err := c.do(ctx, http.MethodGet, path, nil, &v)
	return v, err
}

type recommendationList struct {
	Recommendations []types.Recommendation `json:"recommendations"`
}

func (c *Client) Recommendations(ctx context.Context, accountID string) ([]types.Recommendation, error) {
	var v recommendationList
	err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+accountID+"/recommendations", nil, &v)
	return v.Recommendations, err
}

func (c *Client) ApplyRecommendation(ctx context.Context, id string) (types.Recommendation, error) {
	var v types.Recommendation
	err := c.do(ctx, http.MethodPost, "/api/v1/recommendations/"+id+":apply", nil, &v)
	return v, err
}

func (c *Client) DismissRecommendation(ctx context.Context, id string) (types.Recommendation, error) {
	var v types.Recommendation
	err := c.do(ctx, http.MethodPost, "/api/v1/recommendations/"+id+":dismiss", nil, &v)
	return v, err
}
