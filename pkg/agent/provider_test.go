package agent

import (
	"errors"
	"testing"
)

func TestNewProvider(t *testing.T) {
	t.Run("openai", func(t *testing.T) {
		p, err := NewProvider("openai", "sk-test")
		if err != nil {
			t.Fatalf("NewProvider failed: %v", err)
		}
		if p.Provider() != "openai" {
			t.Errorf("Expected openai, got %s", p.Provider())
		}
	})

	t.Run("anthropic", func(t *testing.T) {
		p, err := NewProvider("anthropic", "sk-test")
		if err != nil {
			t.Fatalf("NewProvider failed: %v", err)
		}
		if p.Provider() != "anthropic" {
			t.Errorf("Expected anthropic, got %s", p.Provider())
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		if _, err := NewProvider("gemini", "sk-test"); err == nil {
			t.Error("Expected error for unsupported provider")
		}
	})
}

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit status", errors.New("request failed: 429 Too Many Requests"), true},
		{"rate limit text", errors.New("rate limit exceeded"), true},
		{"server fault", errors.New("503 Service Unavailable"), true},
		{"connection reset", errors.New("read tcp: ECONNRESET"), true},
		{"bad request", errors.New("400 Bad Request"), false},
		{"auth failure", errors.New("401 Unauthorized"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryableError(tc.err); got != tc.want {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
