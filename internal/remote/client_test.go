package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCallDecodesEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/dispatch/fetch-cost-data" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["provider"] != "aws" {
			t.Errorf("provider not forwarded: %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"total": 42.5},
		})
	}))
	defer ts.Close()

	c := New(ts.URL, time.Second, 0)
	var out struct {
		Total float64 `json:"total"`
	}
	err := c.Call(context.Background(), "fetch-cost-data", map[string]any{"provider": "aws"}, &out)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if out.Total != 42.5 {
		t.Fatalf("total = %v", out.Total)
	}
}

func TestCallOperationError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "access denied"})
	}))
	defer ts.Close()

	err := New(ts.URL, time.Second, 0).Call(context.Background(), "provision", nil, nil)
	if err == nil || errors.Is(err, ErrUnavailable) {
		t.Fatalf("want plain operation error, got %v", err)
	}
}

func TestCallUnreachableIsUnavailable(t *testing.T) {
	c := New("http://127.0.0.1:1", 200*time.Millisecond, 0)
	err := c.Call(context.Background(), "fetch-metrics", nil, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func TestCallServerErrorIsUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	err := New(ts.URL, time.Second, 0).Call(context.Background(), "test-connection", nil, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}
