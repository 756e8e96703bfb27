package server

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeadersMiddleware(t *testing.T) {
	h := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name     string
		setup    func(r *http.Request)
		wantHSTS string
	}{
		{name: "plain http", setup: func(*http.Request) {}},
		{
			name:     "behind tls proxy",
			setup:    func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "https") },
			wantHSTS: "max-age=31536000; includeSubDomains",
		},
		{
			name:     "direct tls",
			setup:    func(r *http.Request) { r.TLS = &tls.ConnectionState{} },
			wantHSTS: "max-age=31536000; includeSubDomains",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/guilds", nil)
			tt.setup(req)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			want := map[string]string{
				"X-Content-Type-Options":    "nosniff",
				"X-Frame-Options":           "DENY",
				"Referrer-Policy":           "strict-origin-when-cross-origin",
				"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'; base-uri 'none'",
				"Strict-Transport-Security": tt.wantHSTS,
			}
			for header, value := range want {
				if got := rr.Header().Get(header); got != value {
					t.Errorf("%s = %q, want %q", header, got, value)
				}
			}
		})
	}
}
