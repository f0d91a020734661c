package client

import (
	"fmt"

	"github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"

	"github.com/bearlytools/mbus/rpc/frame"
)

// ErrorCode is the error state of a finished Request.
type ErrorCode = frame.Code

// Error codes a Request can finish with. Codes other than these may be sent by a
// remote handler and are passed through unchanged.
const (
	ErrNone         = frame.CodeNone
	ErrGeneral      = frame.CodeGeneral
	ErrAbort        = frame.CodeAbort
	ErrTimeout      = frame.CodeTimeout
	ErrConnection   = frame.CodeConnection
	ErrNoSuchMethod = frame.CodeNoSuchMethod
	ErrWrongParams  = frame.CodeWrongParams
	ErrWrongReturn  = frame.CodeWrongReturn
)

var requestPool = sync.NewPool[*Request](
	context.Background(),
	"mbusRequestPool",
	func() *Request { return &Request{} },
	sync.WithBuffer(100),
)

// RequestWaiter is told when a Request finished.
type RequestWaiter interface {
	// RequestDone is called exactly once per request handed to InvokeAsync. The
	// waiter owns req from then on and releases it with SubRef.
	RequestDone(req *Request)
}

// RequestDoneFunc adapts a function to a RequestWaiter.
type RequestDoneFunc func(req *Request)

// RequestDone implements RequestWaiter.
func (f RequestDoneFunc) RequestDone(req *Request) {
	f(req)
}

// Request is one RPC: a method name and parameters going out, return values or
// an error coming back. Requests are pooled, get one with NewRequest or
// Supervisor.AllocRequest and give it back with SubRef.
type Request struct {
	method string
	params frame.Values
	ret    frame.Values
	code   ErrorCode
	msg    string
}

// NewRequest returns an empty Request from the pool.
func NewRequest(ctx context.Context) *Request {
	return requestPool.Get(ctx)
}

// Reset clears r for reuse.
func (r *Request) Reset() {
	r.method = ""
	r.params = r.params[:0]
	r.ret = nil
	r.code = ErrNone
	r.msg = ""
}

// SetMethodName sets the method to invoke.
func (r *Request) SetMethodName(name string) *Request {
	r.method = name
	return r
}

// MethodName returns the method to invoke.
func (r *Request) MethodName() string {
	return r.method
}

// Params returns the parameters to append to.
func (r *Request) Params() *frame.Values {
	return &r.params
}

// Return returns the values the remote end returned.
func (r *Request) Return() frame.Values {
	return r.ret
}

// SetReturn sets the return values. It is used by transports completing r.
func (r *Request) SetReturn(vals frame.Values) {
	r.ret = vals
}

// SetError marks r as failed with code and msg.
func (r *Request) SetError(code ErrorCode, msg string) {
	r.code = code
	r.msg = msg
}

// ErrorCode returns the code r finished with, ErrNone on success.
func (r *Request) ErrorCode() ErrorCode {
	return r.code
}

// ErrorMessage returns the message that came with ErrorCode.
func (r *Request) ErrorMessage() string {
	return r.msg
}

// IsError reports if r finished with an error.
func (r *Request) IsError() bool {
	return r.code != ErrNone
}

// CheckReturnTypes reports if r succeeded with return values of exactly the given
// type codes ("s" for a single string). On a type mismatch r is marked with
// ErrWrongReturn.
func (r *Request) CheckReturnTypes(types string) bool {
	if r.IsError() {
		return false
	}
	if got := r.ret.Types(); got != types {
		r.SetError(ErrWrongReturn, fmt.Sprintf("return types %q, want %q", got, types))
		return false
	}
	return true
}

// SubRef returns r to the pool. r must not be used afterwards.
func (r *Request) SubRef() {
	r.Reset()
	requestPool.Put(context.Background(), r)
}
