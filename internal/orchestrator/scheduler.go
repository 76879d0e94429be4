package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Start launches the interval loop. Each tick attempts a run through the
// same run-lock the manual trigger uses; a tick that finds a run in flight
// is skipped.
func (o *Orchestrator) Start(ctx context.Context) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(o.opts.Interval)
		defer ticker.Stop()

		log.Info().Dur("interval", o.opts.Interval).Msg("polling loop started")
		for {
			select {
			case <-o.stop:
				log.Info().Msg("polling loop stopped")
				return
			case <-ctx.Done():
				log.Info().Msg("polling loop context cancelled")
				return
			case <-ticker.C:
				if err := o.RunNow(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
					log.Error().Err(err).Msg("scheduled run failed")
				}
			}
		}
	}()
}

// Close stops the polling loop and waits for an in-flight cycle to finish
// its current message. No new message is started after Close is called.
func (o *Orchestrator) Close() error {
	o.closing.Store(true)
	close(o.stop)
	o.wg.Wait()

	// taking the run-lock guarantees no cycle is mid-message
	o.runLock.Lock()
	defer o.runLock.Unlock()
	return o.inbox.Close()
}
