package payment

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hms/hms/internal/platform/notify"
)

// Job intervals. The reconcile ticker fires hourly but only payments
// older than the configured threshold are touched.
const (
	expiryInterval    = 10 * time.Minute
	reconcileInterval = time.Hour
	reminderInterval  = 15 * time.Minute
	reminderWindow    = 15 * time.Minute
)

// Jobs runs the background maintenance of the payment ledger: expiring
// abandoned intents, reconciling payments whose callbacks were lost, and
// flagging payments about to expire.
type Jobs struct {
	svc            *Service
	reconcileAfter time.Duration
}

func NewJobs(svc *Service, reconcileAfter time.Duration) *Jobs {
	return &Jobs{svc: svc, reconcileAfter: reconcileAfter}
}

// Start launches the job loops. They stop when ctx is cancelled.
func (j *Jobs) Start(ctx context.Context) {
	go j.loop(ctx, expiryInterval, j.expire)
	go j.loop(ctx, reconcileInterval, j.reconcile)
	go j.loop(ctx, reminderInterval, j.remind)
}

func (j *Jobs) loop(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (j *Jobs) expire(ctx context.Context) {
	n, err := j.svc.ExpirePending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("expire pending payments")
		return
	}
	if n > 0 {
		log.Info().Int("count", n).Msg("expired pending payments")
	}
}

func (j *Jobs) reconcile(ctx context.Context) {
	n, err := j.svc.ReconcileStale(ctx, j.reconcileAfter)
	if err != nil {
		log.Error().Err(err).Msg("reconcile stale payments")
		return
	}
	if n > 0 {
		log.Info().Int("count", n).Msg("reconciled stale payments")
	}
}

func (j *Jobs) remind(ctx context.Context) {
	soon, err := j.svc.ExpiringSoon(ctx, reminderWindow)
	if err != nil {
		log.Error().Err(err).Msg("list expiring payments")
		return
	}
	for _, p := range soon {
		log.Info().Str("payment", p.PaymentNumber).Time("expires_at", *p.ExpiresAt).
			Msg("payment intent expiring soon")
		j.svc.publish(ctx, notify.EventPaymentExpiring, p, "payment window closing")
	}
}
