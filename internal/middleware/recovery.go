package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/palabrita/palabrita/internal/errors"
	"github.com/palabrita/palabrita/internal/logging"
)

// Recovery converts panics in downstream handlers into a 500 response.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logging.Error("panic recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)

					apiErr := errors.ErrInternalServer.WithDetails(fmt.Sprintf("panic: %v", err))
					if reqID := GetRequestID(r); reqID != "" {
						apiErr = apiErr.WithRequestID(reqID)
					}
					apiErr.WriteJSON(w)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
