package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Collector bundles the service's Prometheus metrics behind the small
// interfaces the trip lifecycle and notification scheduler consume.
type Collector struct {
	reg *prometheus.Registry

	activeTrips    prometheus.Gauge
	tripsStarted   prometheus.Counter
	tripsCompleted prometheus.Counter
	tripsCancelled prometheus.Counter

	stopEvents *prometheus.CounterVec // kind label: ARRIVED|DEPARTED|SKIPPED

	positionReports  prometheus.Counter
	positionRejected prometheus.Counter

	notificationsSent   prometheus.Counter
	notificationsFailed prometheus.Counter
	pollDuration        prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		activeTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_active_trips",
			Help: "Number of trips currently ACTIVE.",
		}),
		tripsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trips_started_total",
			Help: "Total trips started.",
		}),
		tripsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trips_completed_total",
			Help: "Total trips completed.",
		}),
		tripsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trips_cancelled_total",
			Help: "Total trips cancelled.",
		}),
		stopEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_stop_events_total",
			Help: "Stop events inferred by the geofence engine.",
		}, []string{"kind"}),
		positionReports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_position_reports_total",
			Help: "Position reports accepted.",
		}),
		positionRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_position_reports_rejected_total",
			Help: "Position reports rejected or dropped.",
		}),
		notificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_notifications_sent_total",
			Help: "Notifications accepted by a delivery channel.",
		}),
		notificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_notifications_failed_total",
			Help: "Notification deliveries that failed and will be retried.",
		}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_notification_poll_duration_seconds",
			Help:    "Duration of one notification poll cycle.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
	}

	reg.MustRegister(
		c.activeTrips,
		c.tripsStarted, c.tripsCompleted, c.tripsCancelled,
		c.stopEvents,
		c.positionReports, c.positionRejected,
		c.notificationsSent, c.notificationsFailed, c.pollDuration,
	)
	return c
}

func (c *Collector) TripStarted()   { c.tripsStarted.Inc() }
func (c *Collector) TripCompleted() { c.tripsCompleted.Inc() }
func (c *Collector) TripCancelled() { c.tripsCancelled.Inc() }

func (c *Collector) SetActiveTrips(n int) { c.activeTrips.Set(float64(n)) }

func (c *Collector) StopEventObserved(kind string) { c.stopEvents.WithLabelValues(kind).Inc() }

func (c *Collector) PositionReportAccepted() { c.positionReports.Inc() }
func (c *Collector) PositionReportRejected() { c.positionRejected.Inc() }

func (c *Collector) NotificationSent()   { c.notificationsSent.Inc() }
func (c *Collector) NotificationFailed() { c.notificationsFailed.Inc() }

func (c *Collector) PollObserve(d time.Duration) { c.pollDuration.Observe(d.Seconds()) }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr in the background.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("metrics server error")
		}
	}()
	logrus.WithField("addr", addr).Info("metrics listening")
	return srv
}
