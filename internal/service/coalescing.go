package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/wind-field-service/internal/models"
)

// inFlightRequest tracks a single fetch that multiple callers may wait for.
type inFlightRequest struct {
	done    chan struct{} // closed when result and err are set
	callers int           // guarded by requestCoalescer.mu
	result  models.WindDocuments
	err     error
}

// requestCoalescer gives single-flight semantics per key: at most one fn runs per key
// at a time and every concurrent caller receives its result.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest
	timeout  time.Duration
}

// newRequestCoalescer creates a requestCoalescer. Waits are bounded by timeout when positive.
func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightRequest),
		timeout:  timeout,
	}
}

// GetOrDo runs fn for key unless a call for key is already in flight, in which case it
// waits for that call. concurrent is the number of callers attached to the call when this
// one joined, so a value above 1 means the caller shared another's fetch (a stampede).
// fn runs on its own goroutine and is not cancelled when a waiter gives up.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func() (models.WindDocuments, error)) (docs models.WindDocuments, concurrent int, err error) {
	rc.mu.Lock()
	req, ok := rc.inFlight[key]
	if !ok {
		req = &inFlightRequest{done: make(chan struct{})}
		rc.inFlight[key] = req
		go func() {
			req.result, req.err = fn()
			rc.cleanup(key)
			close(req.done)
		}()
	}
	req.callers++
	concurrent = req.callers
	rc.mu.Unlock()

	waitCtx := ctx
	if rc.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, rc.timeout)
		defer cancel()
	}

	select {
	case <-req.done:
		if req.err != nil {
			return models.WindDocuments{}, concurrent, req.err
		}
		return req.result, concurrent, nil
	case <-waitCtx.Done():
		return models.WindDocuments{}, concurrent, waitCtx.Err()
	}
}

// InFlight returns the number of keys with a running call.
func (rc *requestCoalescer) InFlight() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.inFlight)
}

// cleanup removes the in-flight request for key. Must be called after the request completes.
func (rc *requestCoalescer) cleanup(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.inFlight, key)
}
