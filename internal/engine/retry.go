package engine

import (
	"context"
	"time"

	"signalflow/config"
	"signalflow/internal/exchange"
	"signalflow/logger"
)

// Policy is the backoff schedule for transient exchange failures. Delays
// grow geometrically from BaseDelay and are capped at MaxDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  int

	sleep func(ctx context.Context, d time.Duration) error
}

// PolicyFromConfig maps the retry section of the config onto a Policy.
func PolicyFromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Multiplier:  cfg.BackoffMultiplier,
	}
}

// Do runs fn up to MaxAttempts times. Only transient failures are retried;
// permanent errors and context cancellation end the loop immediately. The
// last error is returned when every attempt fails.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	delay := p.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt >= p.MaxAttempts || !exchange.IsTransient(err) {
			return err
		}

		logger.IncrementRetryCount()
		logger.GetLogger().WithComponent("engine").WithError(err).WithFields(logger.Fields{
			"operation": op,
			"attempt":   attempt,
			"delay":     delay.String(),
		}).Warn("transient failure, retrying")

		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
		delay *= time.Duration(p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
