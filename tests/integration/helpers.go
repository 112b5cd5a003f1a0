package integration

import (
	"time"

	"github.com/google/uuid"

	"leadflow/internal/logger"
	"leadflow/pkg/models"
)

const timestampDelay = 10 * time.Millisecond

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestLead(tenantID string, receivedAt time.Time) models.LeadEvent {
	return models.LeadEvent{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Source:       models.SourceDirectAPI,
		Contact:      models.Contact{Name: "Test Lead", Phone: "+15550001111"},
		Urgency:      models.UrgencyHigh,
		ConsentState: models.ConsentVerified,
		ReceivedAt:   receivedAt,
	}
}

func createTestItem(tenantID string, class models.PriorityClass, receivedAt time.Time) *models.QueueItem {
	return &models.QueueItem{
		ID:             uuid.New().String(),
		Lead:           createTestLead(tenantID, receivedAt),
		PriorityClass:  class,
		NotBefore:      receivedAt,
		State:          models.StateQueued,
		AttemptHistory: []models.AttemptRecord{},
		EnqueuedAt:     receivedAt,
	}
}
