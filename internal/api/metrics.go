package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/colourlab-core/internal/events"
	"github.com/nerrad567/colourlab-core/internal/process"
	"github.com/nerrad567/colourlab-core/internal/scheduler"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	Scheduler     scheduler.Stats  `json:"scheduler"`
	WebSocket     WSMetrics        `json:"websocket"`
	MQTT          MQTTMetrics      `json:"mqtt"`
	Events        *events.Stats    `json:"events,omitempty"`
	Simulator     *process.Stats   `json:"simulator,omitempty"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	MessagesSent     uint64 `json:"messages_sent"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled       bool `json:"enabled"`
	Connected     bool `json:"connected"`
	Subscriptions int  `json:"subscriptions"`
}

// DatabaseMetrics contains archive connection pool statistics.
type DatabaseMetrics struct {
	Path            string `json:"path"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	WaitCount       int64  `json:"wait_count"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Scheduler: s.sched.Stats(),
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			MessagesSent:     s.hub.MessagesSent(),
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Enabled:       true,
			Connected:     s.mqtt.IsConnected(),
			Subscriptions: s.mqtt.SubscriptionCount(),
		}
	}
	if s.bus != nil {
		st := s.bus.Stats()
		metrics.Events = &st
	}
	if s.simulator != nil {
		st := s.simulator.Stats()
		metrics.Simulator = &st
	}
	if s.db != nil {
		st := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			Path:            s.db.Path(),
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			WaitCount:       st.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
