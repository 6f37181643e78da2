package server

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"http://localhost:8080", "HTTPS://Chat.Example", "not a url", ""}, discardLogger())

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"exact match", "http://localhost:8080", true},
		{"case insensitive", "https://chat.example", true},
		{"different port", "http://localhost:9090", false},
		{"different scheme", "https://localhost:8080", false},
		{"missing header", "", false},
		{"garbage header", "::::", false},
		{"unknown host", "http://evil.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws/r/u", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, policy.check(req))
		})
	}
}

func TestOriginPolicyWildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"}, discardLogger())

	req := httptest.NewRequest("GET", "/ws/r/u", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	assert.True(t, policy.check(req))

	req.Header.Del("Origin")
	assert.False(t, policy.check(req), "wildcard still requires an Origin header")
}

func TestNormalizeOriginsSkipsInvalid(t *testing.T) {
	normalized, allowAll := normalizeOrigins([]string{" http://A.example ", "relative/path", "*"}, discardLogger())
	assert.Equal(t, []string{"http://a.example"}, normalized)
	assert.True(t, allowAll)
}
