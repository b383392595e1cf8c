package dav

import (
	"net/http"

	"golang.org/x/net/webdav"

	"strmdav/pkg/logger"
)

// readMethods is the read-only WebDAV subset this server exposes.
var readMethods = map[string]bool{
	http.MethodOptions: true,
	http.MethodGet:     true,
	http.MethodHead:    true,
	"PROPFIND":         true,
}

// NewHandler wraps the projection in a WebDAV handler restricted to the
// read-only method subset. Everything else is answered with 405.
func NewHandler(fsys *FileSystem) http.Handler {
	davHandler := &webdav.Handler{
		FileSystem: fsys,
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				logger.Debug("[DAV] %s %s: %v", r.Method, r.URL.Path, err)
			}
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !readMethods[r.Method] {
			w.Header().Set("Allow", "OPTIONS, GET, HEAD, PROPFIND")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		davHandler.ServeHTTP(w, r)
	})
}
