package asset

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const maxFailureBackoff = 5 * time.Minute

// failureRecord remembers the last failure of a ref while requests for
// it are backed off.
type failureRecord struct {
	backoff *backoff.ExponentialBackOff
	until   time.Time
	err     error
}

// recordFailure starts or extends the backoff period of key.
func (e *Engine) recordFailure(key string, err error) {
	if e.cfg.FailureBackoff <= 0 {
		return
	}
	f, ok := e.failures[key]
	if !ok {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = e.cfg.FailureBackoff
		b.MaxInterval = maxFailureBackoff
		if b.MaxInterval < b.InitialInterval {
			b.MaxInterval = b.InitialInterval
		}
		b.Reset()
		f = &failureRecord{backoff: b}
		e.failures[key] = f
	}
	f.until = e.clock.Now().Add(f.backoff.NextBackOff())
	f.err = err
}

// backedOff returns the failure of key while its backoff period runs.
func (e *Engine) backedOff(key string) error {
	f, ok := e.failures[key]
	if !ok || !e.clock.Now().Before(f.until) {
		return nil
	}
	return f.err
}
