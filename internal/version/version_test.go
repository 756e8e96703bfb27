package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.2.3", "1.2.3", 0},
		{"v1.2.3", "1.2.4", -1},
		{"1.10.0", "1.9.9", 1},
		{"2.0.0-rc.1", "2.0.0", 0},
		{"1", "1.0.1", -1},
	}
	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCheckerLatest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/repos/"+Repo+"/releases/latest") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"tag_name":"v99.0.0","html_url":"https://example.test/release"}`))
	}))
	defer ts.Close()

	c := &Checker{BaseURL: ts.URL, Client: ts.Client()}
	info, err := c.Latest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !info.UpdateAvailable || info.LatestVersion != "99.0.0" || info.ReleaseURL != "https://example.test/release" {
		t.Fatalf("info = %+v", info)
	}
}

func TestCheckerLatestBadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	c := &Checker{BaseURL: ts.URL, Client: ts.Client()}
	if _, err := c.Latest(context.Background()); err == nil {
		t.Fatal("expected error on 403")
	}
}
