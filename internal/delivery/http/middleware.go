package httpd

import (
	"crypto/hmac"
	"log"
	"net/http"
	"runtime/debug"
)

const maxCallbackBytes = 64 << 10

// CallbackTokenMiddleware rejects callbacks whose "token" query parameter does
// not match secret. An empty secret disables the check.
func CallbackTokenMiddleware(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			if secret != "" {
				got := r.URL.Query().Get("token")
				if !hmac.Equal([]byte(got), []byte(secret)) {
					log.Printf("callback rejected: bad token from %s", r.RemoteAddr)
					writeJSON(w, http.StatusUnauthorized, ErrorResp{Error: "invalid callback token"})
					return
				}
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBytes)
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}

// Recoverer turns a handler panic into a JSON 500.
func Recoverer(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Printf("panic serving %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				writeJSON(w, http.StatusInternalServerError, ErrorResp{Error: "Something went wrong!"})
			}
		}()
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
