package dispatch

import (
	_ "embed"
	"io"
	"net/http"

	"github.com/animus-labs/workflow-svc/internal/auth"
)

//go:embed templates/post.html
var postPage []byte

// VersionHandler writes the service version. Requests the session store does
// not admit get a bare 403.
func VersionHandler(version string, store auth.SessionStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			if err := store.Admit(r); err != nil {
				w.WriteHeader(http.StatusForbidden)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, version)
	})
}

func PostPage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(postPage)
	})
}
