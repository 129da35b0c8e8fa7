package handlers

import (
	"context"

	"trust-payments/models"
	"trust-payments/services"
)

// DLQAdmin is the dead-letter queue as seen by the admin endpoints.
type DLQAdmin interface {
	Messages(ctx context.Context, limit int) ([]models.DLQMessage, error)
	Retry(ctx context.Context, messageID string) (bool, error)
	Resolve(ctx context.Context, messageID, notes string) error
	Stats(ctx context.Context) (models.DLQStats, error)
}

// HealthCheck reports one dependency's state; a nil error means healthy.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handlers holds everything the HTTP handlers call into. DLQ and Reports may
// be nil, in which case their endpoints answer 503.
type Handlers struct {
	Services *services.Services
	Reports  *services.ReportService
	DLQ      DLQAdmin
	Health   []HealthCheck
}
