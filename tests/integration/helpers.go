package integration

import (
	"hub/internal/logger"
	"hub/pkg/models"
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestConnector(code string) *models.IntegrationConnector {
	return &models.IntegrationConnector{
		Code:             code,
		Name:             code,
		IsActive:         true,
		CircuitState:     models.CircuitClosed,
		HealthStatus:     models.HealthHealthy,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RateLimit:        100,
		RateLimitWindow:  60,
	}
}

func createTestMessage(id, sourceConnector, targetConnector string, payload map[string]interface{}) *models.IntegrationMessage {
	return &models.IntegrationMessage{
		ID:              id,
		SourceConnector: sourceConnector,
		TargetConnector: targetConnector,
		Direction:       models.DirectionInbound,
		Type:            "order.created",
		SourcePayload:   payload,
		Status:          models.StatusPending,
		MaxRetries:      3,
	}
}
