// Package monitor publishes periodic health snapshots of the engine:
// host resource usage plus the engine's own gauges, for dashboards
// subscribed to the metrics subject.
package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// EngineGauges is the subset of engine state reported in snapshots.
// Implemented by the engine.
type EngineGauges interface {
	PendingCount() int
	EscalatingCount() int
	AlertCount() int
}

// Snapshot is one published health sample.
type Snapshot struct {
	Timestamp       time.Time `json:"timestamp"`
	CPUUsage        float64   `json:"cpu_usage"`
	MemoryUsage     float64   `json:"memory_usage"`
	PendingSends    int       `json:"pending_sends"`
	EscalatingCount int       `json:"escalating_count"`
	ActiveAlerts    int       `json:"active_alerts"`
}

// HealthMonitor samples host and engine state on an interval and
// publishes each snapshot to notify.metrics.
type HealthMonitor struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	gauges   EngineGauges
	interval time.Duration
	stop     chan struct{}
}

// NewHealthMonitor creates a health monitor.
func NewHealthMonitor(logger *zap.Logger, js nats.JetStreamContext, gauges EngineGauges, interval time.Duration) *HealthMonitor {
	return &HealthMonitor{
		logger:   logger.Named("health-monitor"),
		js:       js,
		gauges:   gauges,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start runs the sampling loop until the context is cancelled or Stop
// is called.
func (m *HealthMonitor) Start(ctx context.Context) error {
	m.logger.Info("Starting health monitor", zap.Duration("interval", m.interval))
	go m.sampleLoop(ctx)
	return nil
}

// Stop stops the sampling loop.
func (m *HealthMonitor) Stop() {
	m.logger.Info("Stopping health monitor")
	close(m.stop)
}

func (m *HealthMonitor) sampleLoop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Sample takes one health snapshot and publishes it.
func (m *HealthMonitor) Sample() *Snapshot {
	snapshot := &Snapshot{
		Timestamp:       time.Now(),
		PendingSends:    m.gauges.PendingCount(),
		EscalatingCount: m.gauges.EscalatingCount(),
		ActiveAlerts:    m.gauges.AlertCount(),
	}

	cpuPercent, err := cpu.Percent(0, false)
	if err != nil {
		m.logger.Error("Failed to get CPU usage", zap.Error(err))
	} else if len(cpuPercent) > 0 {
		snapshot.CPUUsage = cpuPercent[0]
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		m.logger.Error("Failed to get memory usage", zap.Error(err))
	} else {
		snapshot.MemoryUsage = memInfo.UsedPercent
	}

	m.publish(snapshot)

	m.logger.Debug("Health sampled",
		zap.Float64("cpu_usage", snapshot.CPUUsage),
		zap.Float64("memory_usage", snapshot.MemoryUsage),
		zap.Int("pending_sends", snapshot.PendingSends),
		zap.Int("active_alerts", snapshot.ActiveAlerts))

	return snapshot
}

func (m *HealthMonitor) publish(snapshot *Snapshot) {
	if m.js == nil {
		return
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		m.logger.Error("Failed to marshal health snapshot", zap.Error(err))
		return
	}
	if _, err := m.js.Publish("notify.metrics", data); err != nil {
		m.logger.Error("Failed to publish health snapshot", zap.Error(err))
	}
}
