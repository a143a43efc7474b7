package sdabf

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

var retrySleep = time.Second

// Retryable is a connectable resource that runs until it fails. retry
// keeps it open: on any error from Open or Start the resource is closed,
// reopened after a pause, and restarted, until the context is cancelled.
type Retryable interface {
	Name() string
	Open() error
	Close() error
	Start(ctx context.Context) error
}

func retry(ctx context.Context, r Retryable) error {
	opened := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !opened {
			if err := r.Open(); err != nil {
				log.WithField("err", err).Errorf("%s: open failed, retrying", r.Name())
				time.Sleep(retrySleep)
				continue
			}
			opened = true
		}
		err := r.Start(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithField("err", err).Errorf("%s: restarting after error", r.Name())
		if err := r.Close(); err != nil {
			log.WithField("err", err).Warnf("%s: unable to close", r.Name())
		}
		opened = false
		time.Sleep(retrySleep)
	}
}
