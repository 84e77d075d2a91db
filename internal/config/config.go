package config

import (
	"fmt"
	"strconv"
	"time"
)

// Settings are the engine tunables, read from the environment with
// sane defaults.
type Settings struct {
	// GeofenceRadiusM is the arrival radius around each stop.
	GeofenceRadiusM float64

	// NotifyPollInterval bounds worst-case notification latency:
	// a record is notified within poll interval + channel latency of
	// becoming eligible.
	NotifyPollInterval time.Duration
	// NotifyCutoff is how old an unnotified PRESENT/EXCUSED scan must
	// be before it becomes eligible.
	NotifyCutoff time.Duration
	// NotifyBatchSize caps records per poll cycle.
	NotifyBatchSize int

	// AvgSpeedKmh and StopDwell feed route duration estimates.
	AvgSpeedKmh float64
	StopDwell   time.Duration

	NATSURL     string
	NATSSubject string

	// MetricsAddr exposes /metrics; empty disables the metrics server.
	MetricsAddr string

	ListenAddr string
}

// LoadSettings reads engine tunables. Environment precedence follows
// InitDB: .env has already been loaded by the time this runs.
func LoadSettings() (*Settings, error) {
	s := &Settings{
		GeofenceRadiusM:    100,
		NotifyPollInterval: 30 * time.Second,
		NotifyCutoff:       15 * time.Minute,
		NotifyBatchSize:    100,
		AvgSpeedKmh:        25,
		StopDwell:          45 * time.Second,
		NATSURL:            getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		NATSSubject:        getEnv("NATS_SUBJECT", "attendance.notifications"),
		MetricsAddr:        getEnv("METRICS_ADDR", ""),
		ListenAddr:         getEnv("LISTEN_ADDR", "0.0.0.0:8080"),
	}

	if v := getEnv("GEOFENCE_RADIUS_M", ""); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid GEOFENCE_RADIUS_M: %q", v)
		}
		s.GeofenceRadiusM = f
	}
	if v := getEnv("NOTIFY_POLL_INTERVAL_SEC", ""); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec <= 0 {
			return nil, fmt.Errorf("invalid NOTIFY_POLL_INTERVAL_SEC: %q", v)
		}
		s.NotifyPollInterval = time.Duration(sec) * time.Second
	}
	if v := getEnv("NOTIFY_CUTOFF_MIN", ""); v != "" {
		min, err := strconv.Atoi(v)
		if err != nil || min < 0 {
			return nil, fmt.Errorf("invalid NOTIFY_CUTOFF_MIN: %q", v)
		}
		s.NotifyCutoff = time.Duration(min) * time.Minute
	}
	if v := getEnv("NOTIFY_BATCH_SIZE", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid NOTIFY_BATCH_SIZE: %q", v)
		}
		s.NotifyBatchSize = n
	}
	if v := getEnv("AVG_SPEED_KMH", ""); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid AVG_SPEED_KMH: %q", v)
		}
		s.AvgSpeedKmh = f
	}
	if v := getEnv("STOP_DWELL_SEC", ""); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec < 0 {
			return nil, fmt.Errorf("invalid STOP_DWELL_SEC: %q", v)
		}
		s.StopDwell = time.Duration(sec) * time.Second
	}
	return s, nil
}
