package scheduler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/animus-labs/workflow-svc/internal/platform/logging"
)

func TestDashboardProxy(t *testing.T) {
	var gotPath, gotQuery, gotAuth, gotCookie string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotCookie = r.Header.Get("Cookie")
		w.Header().Set("X-Scheduler", "luigi")
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "body:"+r.URL.Path)
	}))
	defer upstream.Close()

	h, err := NewDashboardProxy(logging.NewWithWriter(io.Discard, false), upstream.URL)
	if err != nil {
		t.Fatalf("NewDashboardProxy() err=%v", err)
	}

	cases := []struct {
		in       string
		wantPath string
	}{
		{"/dashboard/", "/static/visualiser/"},
		{"/dashboard/index.html", "/static/visualiser/index.html"},
		{"/dashboard/js/app.js", "/static/visualiser/js/app.js"},
		{"/api/task_list?data=%7B%7D", "/api/task_list"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.in, nil)
		req.Header.Set("Authorization", "Bearer secret")
		req.Header.Set("Cookie", "user=abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("%s: status=%d, want 202", tc.in, rec.Code)
		}
		if gotPath != tc.wantPath {
			t.Fatalf("%s: upstream path=%q, want %q", tc.in, gotPath, tc.wantPath)
		}
		if rec.Body.String() != "body:"+tc.wantPath {
			t.Fatalf("%s: body=%q", tc.in, rec.Body.String())
		}
		if rec.Header().Get("X-Scheduler") != "luigi" {
			t.Fatalf("%s: upstream header not copied", tc.in)
		}
		if gotAuth != "" || gotCookie != "" {
			t.Fatalf("%s: credentials forwarded auth=%q cookie=%q", tc.in, gotAuth, gotCookie)
		}
	}
	if gotQuery != "data=%7B%7D" {
		t.Fatalf("query=%q, want data=%%7B%%7D", gotQuery)
	}
}

func TestDashboardProxyUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	h, err := NewDashboardProxy(logging.NewWithWriter(io.Discard, false), addr)
	if err != nil {
		t.Fatalf("NewDashboardProxy() err=%v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/worker_list", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status=%d, want 502", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(strings.NewReader(rec.Body.String())).Decode(&body); err != nil || body["error"] != "bad_gateway" {
		t.Fatalf("body=%q err=%v", rec.Body.String(), err)
	}
}

func TestDashboardProxyRejectsRelativeTarget(t *testing.T) {
	if _, err := NewDashboardProxy(logging.NewWithWriter(io.Discard, false), "localhost:8082"); err == nil {
		t.Fatalf("NewDashboardProxy() err=nil for relative target")
	}
}
