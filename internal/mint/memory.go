package mint

import (
	"context"
	"sync"

	id "signet/pkg/domain"
)

// Recorder is an in-process minter that keeps every request it accepted.
// Useful for development and for asserting mint counts in tests.
type Recorder struct {
	mu       sync.Mutex
	requests []Request
	failWith error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Mint(ctx context.Context, recipient id.Identity, ref id.StorageID, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.requests = append(r.requests, newRequest(ctx, recipient, ref, key))
	return nil
}

// FailWith makes subsequent mints fail with err; nil restores success.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWith = err
}

// Requests returns a copy of the accepted requests in call order.
func (r *Recorder) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.requests...)
}

// CountFor returns how many mints were accepted for ref.
func (r *Recorder) CountFor(ref id.StorageID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, req := range r.requests {
		if req.DocumentRef == ref.String() {
			n++
		}
	}
	return n
}
