package server

import "net/http"

// ReadOnlyMiddleware rejects every request except GET, HEAD and OPTIONS.
// Used for display terminals that must not reset the count.
func ReadOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
		default:
			w.Header().Set("Allow", "GET, HEAD, OPTIONS")
			ReadOnly(w, r.URL.Path)
		}
	})
}
