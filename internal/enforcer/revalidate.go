package enforcer

import (
	"context"
	"time"

	"github.com/nainovate/license-authority/internal/metrics"
)

// Loop runs the Enforcer's periodic revalidation cycle: an immediate check,
// then one check per interval, cancellable via ctx and re-timeable via
// SetInterval — a select over clock.After(interval) plus a resetCh so an
// interval change (e.g. via an Upgrade response lowering the heartbeat
// cadence) takes effect on the next tick rather than requiring a restart.
type Loop struct {
	enforcer *Enforcer
	interval time.Duration
	resetCh  chan struct{}
	onResult func(CheckResult)
}

// NewLoop builds a revalidation Loop for e, checking every interval.
// onResult, if non-nil, is called synchronously after every check, once the
// loop has updated the revalidation metrics itself; enforcerd uses it for
// logging.
func NewLoop(e *Enforcer, interval time.Duration, onResult func(CheckResult)) *Loop {
	return &Loop{
		enforcer: e,
		interval: interval,
		resetCh:  make(chan struct{}, 1),
		onResult: onResult,
	}
}

// SetInterval updates the revalidation interval at runtime and signals the
// loop to reset its timer on the next iteration.
func (l *Loop) SetInterval(d time.Duration) {
	l.interval = d
	select {
	case l.resetCh <- struct{}{}:
	default:
	}
}

// Run performs an immediate check, then loops on l.interval until ctx is
// cancelled. It never returns a non-nil error for a business-rule check
// failure — those are reported via onResult, not the Go error path.
func (l *Loop) Run(ctx context.Context) error {
	l.tick(ctx)

	for {
		select {
		case <-l.enforcer.clk.After(l.interval):
			l.tick(ctx)
		case <-l.resetCh:
			// Timer resets on the next loop iteration.
		case <-ctx.Done():
			return nil
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	result, err := l.enforcer.Evaluate(ctx)
	if err != nil {
		if l.enforcer.log != nil {
			l.enforcer.log.Error("revalidation check failed", "error", err)
		}
		return
	}
	if l.enforcer.log != nil {
		l.enforcer.log.Info("revalidation check complete", "state", result.State, "reason", result.Reason)
	}
	metrics.RevalidationsTotal.WithLabelValues(result.Reason).Inc()
	metrics.EnforcerState.Set(float64(result.State.Ordinal()))
	if l.onResult != nil {
		l.onResult(result)
	}
}
