package monitor

import (
	"context"
	"fmt"
	"time"

	"hub/internal/constants"
	"hub/internal/logger"
	"hub/internal/store"
	"hub/pkg/metrics"
	"hub/pkg/models"
)

// Monitor derives per-connector health from circuit state and the rolling
// success rate. Health is advisory: it is published for operators and
// dashboards and never blocks routing on its own.
type Monitor struct {
	connectors store.ConnectorRepository
	logger     logger.Logger
	now        func() time.Time
}

func NewMonitor(connectors store.ConnectorRepository, log logger.Logger) *Monitor {
	return &Monitor{
		connectors: connectors,
		logger:     log,
		now:        time.Now,
	}
}

// RunHealthCheck evaluates every active connector. A store failure on one
// connector marks that connector UNHEALTHY and moves on.
func (m *Monitor) RunHealthCheck(ctx context.Context) error {
	conns, err := m.connectors.List(ctx, true)
	if err != nil {
		return err
	}

	for i := range conns {
		conn := &conns[i]
		status, details := Derive(conn)

		if err := m.connectors.UpdateHealth(ctx, conn.Code, status, details, m.now()); err != nil {
			m.logger.ErrorwCtx(ctx, "Health update failed",
				"connector", conn.Code,
				"error", err,
			)
			continue
		}

		metrics.SetConnectorHealthStatus(conn.Code, healthValue(status))
		if status != conn.HealthStatus {
			m.logger.InfowCtx(ctx, "Connector health changed",
				"connector", conn.Code,
				"from", conn.HealthStatus,
				"to", status,
				"details", details,
			)
		}
	}

	return nil
}

// Derive maps a connector's current state to a health status. Circuit
// state dominates the success rate: an open circuit is always UNHEALTHY
// no matter how good the history looks.
func Derive(conn *models.IntegrationConnector) (models.HealthStatus, string) {
	switch conn.CircuitState {
	case models.CircuitOpen:
		return models.HealthUnhealthy, "circuit open"
	case models.CircuitHalfOpen:
		return models.HealthDegraded, "circuit half-open"
	}

	if conn.TotalMessages == 0 {
		return models.HealthHealthy, ""
	}

	rate := conn.SuccessRate()
	switch {
	case rate < constants.UnhealthySuccessRate:
		return models.HealthUnhealthy, fmt.Sprintf("success rate %.0f%%", rate*100)
	case rate < constants.DegradedSuccessRate:
		return models.HealthDegraded, fmt.Sprintf("success rate %.0f%%", rate*100)
	default:
		return models.HealthHealthy, ""
	}
}

func healthValue(status models.HealthStatus) float64 {
	switch status {
	case models.HealthDegraded:
		return 1
	case models.HealthUnhealthy:
		return 2
	default:
		return 0
	}
}
