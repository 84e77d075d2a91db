package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"bustrip_tracker/internal/attendance"
	"bustrip_tracker/internal/config"
	"bustrip_tracker/internal/controllers"
	"bustrip_tracker/internal/geo"
	"bustrip_tracker/internal/logger"
	"bustrip_tracker/internal/metrics"
	"bustrip_tracker/internal/middleware"
	"bustrip_tracker/internal/models"
	"bustrip_tracker/internal/notify"
	"bustrip_tracker/internal/publisher"
	"bustrip_tracker/internal/routes"
	"bustrip_tracker/internal/routestats"
	"bustrip_tracker/internal/trip"

	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize structured logging to file
	logger.Setup()

	// Connect to the database
	config.InitDB()

	settings, err := config.LoadSettings()
	if err != nil {
		log.Fatalf("invalid settings: %v", err)
	}

	collector := metrics.NewCollector()

	// Engine wiring: geofence -> lifecycle -> attendance -> notifications
	engine := geo.NewEngine(settings.GeofenceRadiusM)
	recorder := attendance.NewRecorder(attendance.NewGormStore(config.DB))
	stats := routestats.New(config.DB, settings.AvgSpeedKmh, settings.StopDwell)

	var events trip.EventPublisher
	natsPub, err := publisher.NewNATSPublisher(settings.NATSURL)
	if err != nil {
		logrus.WithError(err).Warn("NATS unavailable, stop events will not be broadcast")
	} else {
		events = natsPub
		defer natsPub.Close()
	}

	trips := trip.NewService(trip.NewGormStore(config.DB), engine, recorder, events, collector)
	controllers.Init(trips, recorder, stats, collector)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Channels: app pushes ride on NATS when available; SMS and email
	// are gateway handoffs. Each guardian's preferred method picks the
	// channel per record.
	channels := []notify.Channel{notify.SMSChannel{}, notify.EmailChannel{}}
	var fallback notify.Channel = notify.SMSChannel{}
	if appCh, err := notify.NewNATSChannel(settings.NATSURL, settings.NATSSubject); err == nil {
		channels = append(channels, appCh)
		fallback = appCh
		defer appCh.Close()
	} else {
		logrus.WithError(err).Warn("NATS channel unavailable, app notifications fall back to SMS handoff")
	}
	preferences := func(studentID uint) (string, error) {
		var student models.Student
		if err := config.DB.Select("notify_method").First(&student, studentID).Error; err != nil {
			return "", err
		}
		return student.NotifyMethod, nil
	}
	scheduler := notify.NewScheduler(
		recorder,
		notify.NewPreferenceSelector(preferences, fallback, channels...),
		collector,
		settings.NotifyPollInterval,
		settings.NotifyCutoff,
		settings.NotifyBatchSize,
	)
	go scheduler.Run(ctx)

	if settings.MetricsAddr != "" {
		collector.Serve(settings.MetricsAddr)
	}

	// Setup Gin router
	r := routes.SetupRouter()

	// Wrap with CORS
	handler := middleware.EnableCORS(r)

	log.Printf("🚀 Server running at %s", settings.ListenAddr)
	log.Fatal(http.ListenAndServe(settings.ListenAddr, handler))
}
