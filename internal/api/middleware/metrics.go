package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cloo-solutions/recall/internal/metrics"
)

// Metrics records request counts and latency labelled by chi route pattern,
// so path parameters do not explode label cardinality.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			m.HTTPRequest(r.Method, routePattern(r), strconv.Itoa(rec.statusCode()), time.Since(start))
		})
	}
}
