package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hub/internal/logger"
	"hub/internal/store"
	"hub/pkg/models"
)

func TestDerive(t *testing.T) {
	tests := []struct {
		name        string
		conn        models.IntegrationConnector
		wantStatus  models.HealthStatus
		wantDetails string
	}{
		{
			name:       "no traffic yet",
			conn:       models.IntegrationConnector{CircuitState: models.CircuitClosed},
			wantStatus: models.HealthHealthy,
		},
		{
			name: "open circuit dominates a perfect history",
			conn: models.IntegrationConnector{
				CircuitState:       models.CircuitOpen,
				TotalMessages:      100,
				SuccessfulMessages: 100,
			},
			wantStatus:  models.HealthUnhealthy,
			wantDetails: "circuit open",
		},
		{
			name: "half-open circuit is degraded",
			conn: models.IntegrationConnector{
				CircuitState:       models.CircuitHalfOpen,
				TotalMessages:      100,
				SuccessfulMessages: 100,
			},
			wantStatus:  models.HealthDegraded,
			wantDetails: "circuit half-open",
		},
		{
			name: "high success rate",
			conn: models.IntegrationConnector{
				CircuitState:       models.CircuitClosed,
				TotalMessages:      100,
				SuccessfulMessages: 95,
			},
			wantStatus: models.HealthHealthy,
		},
		{
			name: "success rate below degraded threshold",
			conn: models.IntegrationConnector{
				CircuitState:       models.CircuitClosed,
				TotalMessages:      100,
				SuccessfulMessages: 80,
			},
			wantStatus:  models.HealthDegraded,
			wantDetails: "success rate 80%",
		},
		{
			name: "success rate below unhealthy threshold",
			conn: models.IntegrationConnector{
				CircuitState:       models.CircuitClosed,
				TotalMessages:      100,
				SuccessfulMessages: 40,
			},
			wantStatus:  models.HealthUnhealthy,
			wantDetails: "success rate 40%",
		},
		{
			name: "boundary rate stays degraded",
			conn: models.IntegrationConnector{
				CircuitState:       models.CircuitClosed,
				TotalMessages:      100,
				SuccessfulMessages: 50,
			},
			wantStatus:  models.HealthDegraded,
			wantDetails: "success rate 50%",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, details := Derive(&tt.conn)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantDetails, details)
		})
	}
}

func TestRunHealthCheckPersistsStatus(t *testing.T) {
	ctx := context.Background()
	connectors := store.NewMemoryConnectorRepository()
	log, err := logger.New("error")
	require.NoError(t, err)

	require.NoError(t, connectors.Create(ctx, &models.IntegrationConnector{
		Code:               "crm",
		IsActive:           true,
		CircuitState:       models.CircuitClosed,
		HealthStatus:       models.HealthHealthy,
		TotalMessages:      10,
		SuccessfulMessages: 3,
	}))
	require.NoError(t, connectors.Create(ctx, &models.IntegrationConnector{
		Code:         "erp",
		IsActive:     true,
		CircuitState: models.CircuitClosed,
		HealthStatus: models.HealthHealthy,
	}))
	require.NoError(t, connectors.Create(ctx, &models.IntegrationConnector{
		Code:         "legacy",
		IsActive:     false,
		CircuitState: models.CircuitOpen,
		HealthStatus: models.HealthHealthy,
	}))

	m := NewMonitor(connectors, log)
	checkedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return checkedAt }

	require.NoError(t, m.RunHealthCheck(ctx))

	crm, err := connectors.Get(ctx, "crm")
	require.NoError(t, err)
	assert.Equal(t, models.HealthUnhealthy, crm.HealthStatus)
	assert.Equal(t, "success rate 30%", crm.HealthDetails)
	require.NotNil(t, crm.LastHealthCheck)
	assert.Equal(t, checkedAt, *crm.LastHealthCheck)

	erp, err := connectors.Get(ctx, "erp")
	require.NoError(t, err)
	assert.Equal(t, models.HealthHealthy, erp.HealthStatus)

	// Inactive connectors are skipped entirely.
	legacy, err := connectors.Get(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, models.HealthHealthy, legacy.HealthStatus)
	assert.Nil(t, legacy.LastHealthCheck)
}
