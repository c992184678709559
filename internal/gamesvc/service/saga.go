package service

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

type compensation struct {
	step string
	undo func(ctx context.Context) error
}

// saga records how to undo each completed provisioning step. Compensations
// run newest first.
type saga struct {
	compensations []compensation
}

func (s *saga) push(step string, undo func(ctx context.Context) error) {
	s.compensations = append(s.compensations, compensation{step: step, undo: undo})
}

// rollback runs every compensation even after a failure and even when ctx is
// already cancelled. The combined failure is returned for logging only.
func (s *saga) rollback(ctx context.Context, logCtx *log.Entry) error {
	ctx = context.WithoutCancel(ctx)

	var errs error
	for i := len(s.compensations) - 1; i >= 0; i-- {
		c := s.compensations[i]
		if err := c.undo(ctx); err != nil {
			logCtx.WithError(err).WithField("step", c.step).Error("rollback step failed")
			errs = multierr.Append(errs, err)
			continue
		}
		logCtx.WithField("step", c.step).Debug("rolled back")
	}
	s.compensations = nil
	return errs
}
