// Package publisher fans stop events out over NATS so dashboards and
// downstream consumers can follow trips live.
package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"bustrip_tracker/internal/geo"
)

type NATSPublisher struct {
	nc *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("bustrip-tracker"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			logrus.Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logrus.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logrus.Warn("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

type stopEventMessage struct {
	TripID    uint      `json:"tripId"`
	StopID    uint      `json:"stopId"`
	Seq       int       `json:"seq"`
	EventType string    `json:"eventType"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishStopEvent is best-effort: a failed publish is logged and the
// event is still durably recorded by the lifecycle service.
func (p *NATSPublisher) PublishStopEvent(tripID uint, ev geo.StopEvent) {
	subject := fmt.Sprintf("trips.%d.stops", tripID)
	msg := stopEventMessage{
		TripID:    tripID,
		StopID:    ev.StopID,
		Seq:       ev.Seq,
		EventType: string(ev.Type),
		Timestamp: ev.At,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		logrus.WithError(err).Error("PublishStopEvent: marshal failed")
		return
	}
	if err := p.nc.Publish(subject, b); err != nil {
		logrus.WithError(err).WithField("subject", subject).Warn("PublishStopEvent: publish failed")
	}
}
