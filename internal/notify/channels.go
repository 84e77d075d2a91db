// Package notify delivers guardian notifications for attendance
// records and marks them notified exactly once per accepted delivery.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"bustrip_tracker/internal/apperrors"
	"bustrip_tracker/internal/models"
)

// Notification is one message handed to a channel. DedupKey identifies
// the logical notification (student+trip+status), so channels that see
// a duplicate after a crash/retry can suppress it; MessageID is unique
// per send attempt.
type Notification struct {
	MessageID string `json:"message_id"`
	DedupKey  string `json:"dedup_key"`

	StudentID uint   `json:"student_id"`
	TripID    uint   `json:"trip_id"`
	SchoolID  uint   `json:"school_id"`
	Status    string `json:"status"`
	ScanTime  string `json:"scan_time"`
	Body      string `json:"body"`
}

// NewNotification builds the message for an attendance record.
func NewNotification(rec models.Attendance) Notification {
	return Notification{
		MessageID: uuid.NewString(),
		DedupKey:  fmt.Sprintf("%d:%d:%s", rec.StudentID, rec.TripID, rec.Status),
		StudentID: rec.StudentID,
		TripID:    rec.TripID,
		SchoolID:  rec.SchoolID,
		Status:    rec.Status,
		ScanTime:  rec.ScanTime.Format("2006-01-02T15:04:05Z07:00"),
		Body:      fmt.Sprintf("Attendance update: student %d marked %s on trip %d", rec.StudentID, rec.Status, rec.TripID),
	}
}

// Channel is the delivery strategy. Send returning nil means the
// channel accepted the message, not that it was delivered; the channel
// owns the actual delivery guarantee. Channels must tolerate duplicate
// sends for the same DedupKey.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Selector picks the channel for one record. New channels plug in here
// without touching the scheduler.
type Selector interface {
	ChannelFor(rec models.Attendance) Channel
}

// StaticSelector always returns the same channel.
type StaticSelector struct {
	Ch Channel
}

func (s StaticSelector) ChannelFor(models.Attendance) Channel { return s.Ch }

// PreferenceLookup resolves a student's preferred notify method.
type PreferenceLookup func(studentID uint) (string, error)

// PreferenceSelector routes each record to the channel matching the
// student's NotifyMethod. NONE routes to NoopChannel so opted-out
// records still drain from the unnotified queue; unknown methods,
// unregistered channels and lookup failures use the fallback.
type PreferenceSelector struct {
	lookup   PreferenceLookup
	channels map[string]Channel
	fallback Channel
}

func NewPreferenceSelector(lookup PreferenceLookup, fallback Channel, channels ...Channel) *PreferenceSelector {
	m := make(map[string]Channel, len(channels)+1)
	for _, ch := range channels {
		m[ch.Name()] = ch
	}
	m[models.NotifyNone] = NoopChannel{}
	return &PreferenceSelector{lookup: lookup, channels: m, fallback: fallback}
}

func (s *PreferenceSelector) ChannelFor(rec models.Attendance) Channel {
	method, err := s.lookup(rec.StudentID)
	if err != nil {
		logrus.WithError(err).WithField("student_id", rec.StudentID).Warn("Notify preference lookup failed, using fallback channel")
		return s.fallback
	}
	if ch, found := s.channels[method]; found {
		return ch
	}
	return s.fallback
}

// NoopChannel accepts without delivering, for guardians who opted out.
type NoopChannel struct{}

func (NoopChannel) Name() string { return models.NotifyNone }

func (NoopChannel) Send(context.Context, Notification) error { return nil }

// SMSChannel hands messages to an SMS gateway. The gateway integration
// is deployment-specific; this implementation logs the handoff.
type SMSChannel struct{}

func (SMSChannel) Name() string { return models.NotifySMS }

func (SMSChannel) Send(_ context.Context, n Notification) error {
	logrus.WithFields(logrus.Fields{
		"message_id": n.MessageID,
		"dedup_key":  n.DedupKey,
	}).Info("SMS notification queued")
	return nil
}

// EmailChannel hands messages to the mail relay.
type EmailChannel struct{}

func (EmailChannel) Name() string { return models.NotifyEmail }

func (EmailChannel) Send(_ context.Context, n Notification) error {
	logrus.WithFields(logrus.Fields{
		"message_id": n.MessageID,
		"dedup_key":  n.DedupKey,
	}).Info("Email notification queued")
	return nil
}

// NATSChannel publishes app notifications onto a NATS subject; the
// mobile app's push backend consumes them from there.
type NATSChannel struct {
	nc      *nats.Conn
	subject string
}

func NewNATSChannel(url, subject string) (*NATSChannel, error) {
	nc, err := nats.Connect(url,
		nats.Name("bustrip-notifier"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			logrus.Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logrus.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSChannel{nc: nc, subject: subject}, nil
}

func (c *NATSChannel) Name() string { return models.NotifyApp }

func (c *NATSChannel) Send(_ context.Context, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("%s.%d", c.subject, n.SchoolID)
	if err := c.nc.Publish(subject, b); err != nil {
		return apperrors.ChannelDelivery("nats publish to %s failed: %v", subject, err)
	}
	return nil
}

func (c *NATSChannel) Close() {
	if c.nc != nil {
		c.nc.Drain()
		c.nc.Close()
	}
}
