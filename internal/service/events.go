package service

import (
	"context"

	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/ws"
)

// EventPublisher fans an event out to live subscribers. Publish must not block.
type EventPublisher interface {
	Publish(eventType, tenantID string, data any)
}

// AlertRepository is the full alert store: raising plus the reads and
// resolution AlertService needs.
type AlertRepository interface {
	AlertStore
	AlertRaiser
}

// PublishingAlerts wraps an AlertRepository and publishes every successful
// raise and resolution to the event stream.
type PublishingAlerts struct {
	AlertRepository
	events EventPublisher
}

// NewPublishingAlerts wraps repo. A nil events publishes nothing.
func NewPublishingAlerts(repo AlertRepository, events EventPublisher) *PublishingAlerts {
	return &PublishingAlerts{AlertRepository: repo, events: events}
}

// RaiseAlert persists a, then publishes it.
func (p *PublishingAlerts) RaiseAlert(ctx context.Context, a *models.Alert) error {
	if err := p.AlertRepository.RaiseAlert(ctx, a); err != nil {
		return err
	}

	if p.events != nil {
		p.events.Publish(ws.EventAlertRaised, a.TenantID, a)
	}

	return nil
}

// ResolveAlert resolves the alert, then publishes the resolved row.
func (p *PublishingAlerts) ResolveAlert(ctx context.Context, id string) (*models.Alert, error) {
	a, err := p.AlertRepository.ResolveAlert(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.events != nil {
		p.events.Publish(ws.EventAlertResolved, a.TenantID, a)
	}

	return a, nil
}
