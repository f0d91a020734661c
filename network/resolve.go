package network

import (
	"fmt"
	"time"

	"github.com/gostdlib/base/context"
	"github.com/gostdlib/base/retry/exponential"

	"github.com/bearlytools/mbus/errors"
	"github.com/bearlytools/mbus/gate"
	"github.com/bearlytools/mbus/version"
)

// Resolve is a blocking ResolveVersion. It returns the version and whether it
// was resolved, or ctx.Err() if ctx ends first. The version request keeps
// running after ctx ends and its result is still cached by target.
func Resolve(ctx context.Context, target *RPCTarget, timeout time.Duration) (version.Version, bool, error) {
	var (
		g  = gate.New()
		v  version.Version
		ok bool
	)
	target.ResolveVersion(ctx, timeout, VersionHandlerFunc(func(rv version.Version, rok bool) {
		v, ok = rv, rok
		g.CountDown()
	}))
	if err := g.Await(ctx); err != nil {
		return version.Version{}, false, err
	}
	return v, ok, nil
}

var errUnresolved = errors.New("version not resolved")

// ResolveWithRetry calls Resolve until the version is resolved, waiting between
// attempts as backoff says. At most attempts calls are made, attempts < 1 means
// until ctx ends. Running out of attempts, or of time before the next attempt is
// due, returns no version and a nil error. Only ctx ending returns an error.
func ResolveWithRetry(ctx context.Context, target *RPCTarget, timeout time.Duration, backoff *exponential.Backoff, attempts int) (version.Version, bool, error) {
	var v version.Version
	op := func(ctx context.Context, r exponential.Record) error {
		rv, ok, err := Resolve(ctx, target, timeout)
		if err != nil {
			return fmt.Errorf("%w: %w", err, exponential.ErrPermanent)
		}
		if !ok {
			target.log.Debug("version unresolved, will retry", "attempt", r.Attempt)
			return errUnresolved
		}
		v = rv
		return nil
	}

	var opts []exponential.RetryOption
	if attempts > 0 {
		opts = append(opts, exponential.WithMaxAttempts(attempts))
	}
	err := backoff.Retry(ctx, op, opts...)
	switch {
	case err == nil:
		return v, true, nil
	case ctx.Err() != nil:
		return version.Version{}, false, ctx.Err()
	case errors.Is(err, errUnresolved), errors.Is(err, exponential.ErrRetryCanceled):
		return version.Version{}, false, nil
	}
	return version.Version{}, false, err
}
