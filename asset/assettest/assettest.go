// Package assettest has helpers for testing providers and asset types
// against a running engine.
package assettest

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devblok/koruasset/asset"
)

// Timeout bounds how long the pump helpers tick the engine.
var Timeout = 5 * time.Second

// QuietLogger returns a logger that discards everything.
func QuietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Pump ticks e until every transfer has been delivered.
func Pump(tb testing.TB, e *asset.Engine, transfers ...*asset.Transfer) {
	tb.Helper()
	PumpUntil(tb, e, func() bool {
		for _, t := range transfers {
			if !t.Delivered() {
				return false
			}
		}
		return true
	})
}

// PumpUpload ticks e until the upload has finished.
func PumpUpload(tb testing.TB, e *asset.Engine, u *asset.Upload) {
	tb.Helper()
	PumpUntil(tb, e, func() bool { return u.State().Terminal() })
}

// PumpUntil ticks e until done returns true.
func PumpUntil(tb testing.TB, e *asset.Engine, done func() bool) {
	tb.Helper()
	deadline := time.Now().Add(Timeout)
	for time.Now().Before(deadline) {
		e.Update(time.Millisecond)
		if done() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	tb.Fatalf("engine did not settle within %v", Timeout)
}
