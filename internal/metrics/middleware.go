package metrics

import (
	"net/http"
	"strconv"
	"time"
)

// statusRecorder remembers the first status written through it. A handler
// that never calls WriteHeader answers 200.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

// Instrument counts responses of endpoint by status code and observes how
// long the handler took, rejected requests included.
func Instrument(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		EndpointDuration.WithLabelValues(endpoint).Observe(float64(time.Since(start).Microseconds()) / 1000)
		EndpointResponses.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
	})
}
