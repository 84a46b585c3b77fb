package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientExecuteTool(t *testing.T) {
	t.Run("returns result payload on success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/execute" || r.Method != http.MethodPost {
				t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			}

			var req executeRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("failed to decode request: %v", err)
			}
			if req.ToolName != "get_profile" || req.Arguments["subject_id"] != "M1005" {
				t.Errorf("unexpected request body: %+v", req)
			}

			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]interface{}{"merchant_id": "M1005", "country": "LT"},
			})
		}))
		defer server.Close()

		c := NewClient(server.URL, 5*time.Second)
		result, err := c.ExecuteTool(context.Background(), "get_profile", map[string]interface{}{"subject_id": "M1005"})
		if err != nil {
			t.Fatalf("ExecuteTool failed: %v", err)
		}

		var decoded map[string]interface{}
		if err := json.Unmarshal(result, &decoded); err != nil {
			t.Fatalf("result is not valid JSON: %v", err)
		}
		if decoded["merchant_id"] != "M1005" {
			t.Errorf("unexpected result: %v", decoded)
		}
	})

	t.Run("maps service error to CallError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Merchant ID M9999 not found."})
		}))
		defer server.Close()

		c := NewClient(server.URL, 5*time.Second)
		_, err := c.ExecuteTool(context.Background(), "get_profile", map[string]interface{}{"subject_id": "M9999"})

		var callErr *CallError
		if !errors.As(err, &callErr) {
			t.Fatalf("expected CallError, got %v", err)
		}
		if callErr.Message != "Merchant ID M9999 not found." {
			t.Errorf("unexpected error message: %s", callErr.Message)
		}
	})

	t.Run("fails on non-JSON response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("<html>bad gateway</html>"))
		}))
		defer server.Close()

		c := NewClient(server.URL, 5*time.Second)
		_, err := c.ExecuteTool(context.Background(), "get_profile", map[string]interface{}{"subject_id": "M1005"})
		if err == nil {
			t.Error("expected error for non-JSON response")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		started := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Drain the body so the server can detect the client disconnect;
			// otherwise r.Context() is never cancelled and Close hangs.
			_, _ = io.Copy(io.Discard, r.Body)
			close(started)
			<-r.Context().Done()
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-started
			cancel()
		}()

		c := NewClient(server.URL, time.Minute)
		_, err := c.ExecuteTool(ctx, "get_profile", map[string]interface{}{"subject_id": "M1005"})
		if err == nil {
			t.Error("expected error after cancellation")
		}
	})
}

func TestClientListTools(t *testing.T) {
	t.Run("decodes tool listing", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/tools" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			_ = json.NewEncoder(w).Encode([]ToolInfo{
				{Name: "get_profile", Description: "Gets profile information."},
				{Name: "set_risk_status", Description: "Updates risk status."},
			})
		}))
		defer server.Close()

		c := NewClient(server.URL, 5*time.Second)
		tools, err := c.ListTools(context.Background())
		if err != nil {
			t.Fatalf("ListTools failed: %v", err)
		}
		if len(tools) != 2 || tools[0].Name != "get_profile" {
			t.Errorf("unexpected listing: %+v", tools)
		}
	})

	t.Run("fails on error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, 5*time.Second)
		if _, err := c.ListTools(context.Background()); err == nil {
			t.Error("expected error for 500 response")
		}
	})
}
