package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticGauges struct {
	pending    int
	escalating int
	alerts     int
}

func (g *staticGauges) PendingCount() int    { return g.pending }
func (g *staticGauges) EscalatingCount() int { return g.escalating }
func (g *staticGauges) AlertCount() int      { return g.alerts }

func TestHealthMonitor_Sample(t *testing.T) {
	gauges := &staticGauges{pending: 3, escalating: 1, alerts: 7}
	m := NewHealthMonitor(zap.NewNop(), nil, gauges, time.Minute)

	snapshot := m.Sample()
	require.NotNil(t, snapshot)

	assert.Equal(t, 3, snapshot.PendingSends)
	assert.Equal(t, 1, snapshot.EscalatingCount)
	assert.Equal(t, 7, snapshot.ActiveAlerts)
	assert.False(t, snapshot.Timestamp.IsZero())
	assert.GreaterOrEqual(t, snapshot.MemoryUsage, 0.0)
}
