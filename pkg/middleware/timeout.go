package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/logger"
)

// Timeout runs each request under a deadline. The handler writes into a
// buffer that is sent when it returns in time. Past the deadline the client
// gets a 504 and the handler's output is dropped; a client that went away
// gets nothing. A zero d disables the middleware.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			inner := r.WithContext(ctx)
			bw := &bufferedWriter{header: make(http.Header)}
			done := make(chan struct{})
			panicked := make(chan any, 1)
			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicked <- p
						return
					}
					close(done)
				}()
				next.ServeHTTP(bw, inner)
			}()

			select {
			case p := <-panicked:
				panic(p)
			case <-done:
				// A ServeMux below sets Pattern on the copy; outer
				// middleware labels by it.
				r.Pattern = inner.Pattern
				bw.flush(w)
			case <-ctx.Done():
				bw.abandon()
				if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return
				}
				logger.FromContext(r.Context()).Warn("request timed out",
					"method", r.Method,
					"path", r.URL.Path,
					"timeout", d,
				)
				apperrors.Write(w, apperrors.Newf(apperrors.ErrTimeout, "request exceeded %v", d))
			}
		})
	}
}

type bufferedWriter struct {
	mu        sync.Mutex
	header    http.Header
	status    int
	body      bytes.Buffer
	abandoned bool
}

func (bw *bufferedWriter) Header() http.Header { return bw.header }

func (bw *bufferedWriter) WriteHeader(code int) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.status == 0 && !bw.abandoned {
		bw.status = code
	}
}

func (bw *bufferedWriter) Write(b []byte) (int, error) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.abandoned {
		return 0, http.ErrHandlerTimeout
	}
	if bw.status == 0 {
		bw.status = http.StatusOK
	}
	return bw.body.Write(b)
}

func (bw *bufferedWriter) abandon() {
	bw.mu.Lock()
	bw.abandoned = true
	bw.mu.Unlock()
}

// flush sends what the handler wrote. A handler that wrote nothing sends
// nothing, leaving the status to the server's default.
func (bw *bufferedWriter) flush(w http.ResponseWriter) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	for k, v := range bw.header {
		w.Header()[k] = v
	}
	if bw.status == 0 {
		return
	}
	w.WriteHeader(bw.status)
	_, _ = w.Write(bw.body.Bytes())
}
