package worker

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Purger deletes finished jobs and telemetry older than retention.
type Purger interface {
	PurgeExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// NewRetentionCron schedules p on spec (standard five-field cron syntax).
// The caller starts and stops the returned scheduler.
func NewRetentionCron(spec string, p Purger, retention time.Duration) (*cron.Cron, error) {
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if _, err := c.AddFunc(spec, func() { RunRetention(context.Background(), p, retention) }); err != nil {
		return nil, err
	}
	return c, nil
}

func RunRetention(ctx context.Context, p Purger, retention time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	n, err := p.PurgeExpired(ctx, retention)
	if err != nil {
		log.Printf("[Retention] purge failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[Retention] purged %d rows older than %s", n, retention)
	}
}
