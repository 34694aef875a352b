package scheduler

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/animus-labs/workflow-svc/internal/platform/httpserver"
)

const (
	dashboardPrefix = "/dashboard/"
	visualiserRoot  = "/static/visualiser/"
)

// NewDashboardProxy forwards the dashboard UI and scheduler API to target.
// Paths under /dashboard/ are served from the scheduler's visualiser root.
func NewDashboardProxy(logger *slog.Logger, target string) (http.Handler, error) {
	upstream, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream url: %q", target)
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(upstream)
			r.Out.Host = upstream.Host
			p := r.In.URL.Path
			if rest, ok := strings.CutPrefix(p, dashboardPrefix); ok {
				r.Out.URL.Path = singleJoin(upstream.Path, visualiserRoot+rest)
				r.Out.URL.RawPath = ""
			}
			// credentials for this service are never forwarded upstream
			r.Out.Header.Del("Authorization")
			r.Out.Header.Del("Cookie")
		},
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.ErrorContext(r.Context(), "proxy error", "request_id", httpserver.RequestID(r), "error", err)
		httpserver.WriteError(w, r, http.StatusBadGateway, "bad_gateway")
	}
	return proxy, nil
}

func singleJoin(a, b string) string {
	return strings.TrimRight(a, "/") + "/" + strings.TrimLeft(b, "/")
}
