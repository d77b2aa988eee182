package middleware

import (
	"net/http"

	"github.com/eficia/eficia-api/internal/pkg/errorhandler"
)

// Recover turns panics into a logged 500 response
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				errorhandler.HandlePanicError(r.Context(), w, err)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
