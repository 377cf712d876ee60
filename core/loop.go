package core

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/devblok/koruasset/asset"
)

// Run drives e from the frame ticker of t until ctx is done or frame
// returns false. frame is called after every engine update and may be
// nil.
func Run(ctx context.Context, e *asset.Engine, t *Time, logger log.FieldLogger, frame func(delta time.Duration) bool) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	frames := 0

EventLoop:
	for {
		select {
		case <-ctx.Done():
			break EventLoop
		case <-t.FpsTicker().C:
			delta := t.Delta()
			e.Update(delta)
			frames++
			if frame != nil && !frame(delta) {
				break EventLoop
			}
		}
	}
	logger.WithField("frames", frames).Debug("event loop exited")
}
