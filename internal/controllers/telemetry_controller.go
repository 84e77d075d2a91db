package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"bustrip_tracker/internal/apperrors"
)

// upgrader configures the WebSocket connection for telemetry sources.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // telemetry devices connect from anywhere
	},
}

// PositionReport is the wire format of one telemetry sample.
type PositionReport struct {
	TripID    uint      `json:"trip_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// UnmarshalJSON tolerates timestamps without a timezone suffix by
// assuming UTC, since some tracker firmwares emit bare local times.
func (pr *PositionReport) UnmarshalJSON(data []byte) error {
	type alias PositionReport
	aux := &struct {
		Timestamp string `json:"timestamp"`
		*alias
	}{alias: (*alias)(pr)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	ts := aux.Timestamp
	if ts == "" {
		return fmt.Errorf("missing timestamp")
	}
	// A zone offset, when present, is the last 6 characters ("+03:00").
	if !strings.HasSuffix(ts, "Z") && (len(ts) < 6 || !strings.ContainsAny(ts[len(ts)-6:], "+-")) {
		ts += "Z"
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", aux.Timestamp, err)
	}
	pr.Timestamp = t
	return nil
}

// IngestPosition is the HTTP ingest path for telemetry sources that
// cannot hold a socket open.
func IngestPosition(c *gin.Context) {
	var report PositionReport
	if err := c.ShouldBindJSON(&report); err != nil {
		fail(c, apperrors.Validation("invalid position report: %v", err))
		return
	}
	events, err := applyPositionReport(report)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"events": events})
}

// HandleTelemetryWebSocket accepts a stream of position reports from a
// vehicle tracker. Each message is applied independently; a bad report
// is answered with an error frame and dropped, never closing the
// stream.
func HandleTelemetryWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("Failed to upgrade telemetry WebSocket connection")
		return
	}
	defer conn.Close()

	logrus.WithField("remote", conn.RemoteAddr().String()).Info("Telemetry WebSocket connected")

	for {
		messageType, p, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.Info("Telemetry WebSocket closed")
			} else {
				logrus.WithError(err).Error("Error reading telemetry WebSocket message")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var report PositionReport
		if err := json.Unmarshal(p, &report); err != nil {
			logrus.WithError(err).WithField("payload", string(p)).Warn("Telemetry: unparseable report dropped")
			conn.WriteJSON(gin.H{"error": "invalid position report"})
			continue
		}

		events, err := applyPositionReport(report)
		if err != nil {
			conn.WriteJSON(gin.H{"error": err.Error(), "kind": string(apperrors.KindOf(err))})
			continue
		}
		conn.WriteJSON(gin.H{"status": "applied", "events": len(events)})
	}
}

func applyPositionReport(report PositionReport) ([]interface{}, error) {
	if report.TripID == 0 {
		return nil, apperrors.Validation("trip_id is required")
	}
	events, err := Trips.ReportPosition(report.TripID, report.Latitude, report.Longitude, report.Timestamp)
	if err != nil {
		// Reports for inactive trips and malformed coordinates are
		// rejected, logged and dropped; the engine never crashes on them.
		logrus.WithError(err).WithFields(logrus.Fields{
			"trip_id": report.TripID,
			"lat":     report.Latitude,
			"lng":     report.Longitude,
		}).Warn("Position report rejected")
		if Metrics != nil {
			Metrics.PositionReportRejected()
		}
		return nil, err
	}
	if Metrics != nil {
		Metrics.PositionReportAccepted()
	}
	out := make([]interface{}, 0, len(events))
	for _, ev := range events {
		out = append(out, gin.H{
			"stop_id": ev.StopID,
			"seq":     ev.Seq,
			"type":    string(ev.Type),
			"at":      ev.At,
		})
	}
	return out, nil
}
