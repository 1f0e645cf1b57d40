package sdbus

import (
	"context"
	"sync"
)

// A PendingCall is a single in-flight method call, bridging the
// asynchronous reply to its caller.
type PendingCall struct {
	done chan struct{}

	mu        sync.Mutex
	reply     Message
	err       error
	settled   bool
	cancelled bool
	remove    func()
}

// Done returns a channel that is closed when the reply arrives or the
// call fails.
func (p *PendingCall) Done() <-chan struct{} { return p.done }

// Reply returns the reply message, or the error that settled the
// call. It must only be called after Done is closed.
//
// An error reply from the peer surfaces as a *BusError carrying the
// peer's error name and message.
func (p *PendingCall) Reply() (Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reply, p.err
}

// Await blocks until the call settles or ctx is done. If ctx ends
// first, the call is cancelled and ctx's error is returned.
func (p *PendingCall) Await(ctx context.Context) (Message, error) {
	select {
	case <-p.done:
		return p.Reply()
	case <-ctx.Done():
		p.Cancel()
		return nil, ctx.Err()
	}
}

// Cancel withdraws interest in the reply. The request is not
// retracted from the peer; if a reply arrives later it is silently
// discarded. Cancel is idempotent and safe after settlement.
func (p *PendingCall) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled || p.cancelled {
		return
	}
	p.cancelled = true
	if p.remove != nil {
		p.remove()
	}
	close(p.done)
}

func (p *PendingCall) settle(reply Message, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled || p.cancelled {
		return false
	}
	p.settled = true
	p.reply, p.err = reply, err
	close(p.done)
	return true
}

// PendingCalls is the table of in-flight calls on a connection, keyed
// by the opaque cookie correlating a call with its reply. Connection
// implementations own one and must call Resolve (or Fail) from their
// dispatch loop; the zero value is ready to use.
type PendingCalls struct {
	mu    sync.Mutex
	calls map[uint64]*PendingCall
}

// Add registers a new pending call under the given cookie.
func (r *PendingCalls) Add(cookie uint64) *PendingCall {
	p := &PendingCall{done: make(chan struct{})}
	p.remove = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.calls[cookie] == p {
			delete(r.calls, cookie)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[uint64]*PendingCall{}
	}
	r.calls[cookie] = p
	return p
}

func (r *PendingCalls) take(cookie uint64) *PendingCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.calls[cookie]
	delete(r.calls, cookie)
	return p
}

// Resolve settles the call registered under cookie with the given
// reply. An error reply settles the call with a *BusError instead of
// a message. Resolve reports whether any call was still interested;
// replies to cancelled or unknown cookies are dropped.
func (r *PendingCalls) Resolve(cookie uint64, reply Message) bool {
	p := r.take(cookie)
	if p == nil {
		return false
	}
	if e := reply.Err(); e != nil {
		return p.settle(nil, e)
	}
	return p.settle(reply, nil)
}

// Fail settles the call registered under cookie with err.
func (r *PendingCalls) Fail(cookie uint64, err error) bool {
	p := r.take(cookie)
	if p == nil {
		return false
	}
	return p.settle(nil, err)
}

// FailAll settles every in-flight call with err. Used when the
// connection shuts down.
func (r *PendingCalls) FailAll(err error) {
	r.mu.Lock()
	calls := r.calls
	r.calls = nil
	r.mu.Unlock()
	for _, p := range calls {
		p.settle(nil, err)
	}
}
