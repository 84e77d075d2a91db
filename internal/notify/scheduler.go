package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"bustrip_tracker/internal/models"
)

// Store is the attendance surface the scheduler polls. Implemented by
// attendance.Recorder.
type Store interface {
	FindUnnotified(cutoff time.Time, limit int) ([]models.Attendance, error)
	MarkAsNotified(id uint, method string) error
}

// Metrics is the subset of the metrics collector the scheduler feeds.
type Metrics interface {
	NotificationSent()
	NotificationFailed()
	PollObserve(d time.Duration)
}

// Scheduler polls for notification-eligible attendance on a fixed
// interval and delivers through the selected channel. A record is
// marked notified only after its channel accepts the send, so a crash
// between send and mark re-sends on the next cycle (at-least-once;
// channels dedup on Notification.DedupKey). Worst-case notification
// latency is Interval plus channel latency.
//
// Each cycle takes at most BatchSize records; whatever is left over is
// picked up next cycle, which bounds fan-out during outage recovery.
type Scheduler struct {
	store    Store
	selector Selector
	metrics  Metrics

	// Interval between polls.
	Interval time.Duration
	// Cutoff is how old an unnotified PRESENT/EXCUSED scan must be
	// before it becomes eligible. ABSENT/LATE are always eligible.
	Cutoff time.Duration
	// BatchSize caps records handled per cycle.
	BatchSize int
}

func NewScheduler(store Store, selector Selector, metrics Metrics, interval, cutoff time.Duration, batchSize int) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Scheduler{
		store:     store,
		selector:  selector,
		metrics:   metrics,
		Interval:  interval,
		Cutoff:    cutoff,
		BatchSize: batchSize,
	}
}

// Run polls until ctx is cancelled. Intended as `go scheduler.Run(ctx)`
// from main; it is decoupled from the request path entirely.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	logrus.WithFields(logrus.Fields{
		"interval":   s.Interval,
		"cutoff":     s.Cutoff,
		"batch_size": s.BatchSize,
	}).Info("Notification scheduler running")

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Notification scheduler stopped")
			return
		case <-ticker.C:
			sent, failed := s.PollOnce(ctx)
			if sent > 0 || failed > 0 {
				logrus.WithFields(logrus.Fields{"sent": sent, "failed": failed}).Info("Notification cycle done")
			}
		}
	}
}

// PollOnce runs a single cycle and reports how many notifications were
// sent and how many deliveries failed. Failures stay unnotified and are
// retried next cycle; they never propagate to the attendance write path.
func (s *Scheduler) PollOnce(ctx context.Context) (sent, failed int) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.PollObserve(time.Since(start))
		}
	}()

	cutoff := time.Now().UTC().Add(-s.Cutoff)
	records, err := s.store.FindUnnotified(cutoff, s.BatchSize)
	if err != nil {
		logrus.WithError(err).Error("PollOnce: unnotified query failed")
		return 0, 0
	}

	for _, rec := range records {
		ch := s.selector.ChannelFor(rec)
		if ch == nil {
			logrus.WithField("attendance_id", rec.ID).Warn("PollOnce: no channel for record, skipping")
			continue
		}
		n := NewNotification(rec)
		if err := ch.Send(ctx, n); err != nil {
			failed++
			if s.metrics != nil {
				s.metrics.NotificationFailed()
			}
			logrus.WithError(err).WithFields(logrus.Fields{
				"attendance_id": rec.ID,
				"channel":       ch.Name(),
				"dedup_key":     n.DedupKey,
			}).Warn("PollOnce: delivery failed, will retry next cycle")
			continue
		}
		if err := s.store.MarkAsNotified(rec.ID, ch.Name()); err != nil {
			// The send went out but the mark did not stick; next cycle
			// re-sends and the channel dedups on DedupKey.
			failed++
			logrus.WithError(err).WithField("attendance_id", rec.ID).Error("PollOnce: mark-notified failed after send")
			continue
		}
		sent++
		if s.metrics != nil {
			s.metrics.NotificationSent()
		}
	}
	return sent, failed
}
