package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type ServiceType string

const (
	ServiceOffer ServiceType = "offer"
	ServiceNeed  ServiceType = "need"
)

type ServiceStatus string

const (
	ServiceOpen       ServiceStatus = "open"
	ServiceInProgress ServiceStatus = "in_progress"
	ServiceCompleted  ServiceStatus = "completed"
	ServiceCancelled  ServiceStatus = "cancelled"
)

// Service is a posted offer or need.
type Service struct {
	ID            int64           `json:"id"`
	OwnerID       int64           `json:"owner_id"`
	Type          ServiceType     `json:"service_type"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	HoursRequired decimal.Decimal `json:"hours_required"`
	Status        ServiceStatus   `json:"status"`
	Date          string          `json:"service_date"`
	StartTime     string          `json:"start_time"`
	EndTime       string          `json:"end_time"`
	Location      string          `json:"location"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Parties resolves provider and consumer for an engagement between the
// service owner and a counterparty. Offer owners provide; need owners consume.
func (s *Service) Parties(counterpartyID int64) (providerID, consumerID int64) {
	if s.Type == ServiceNeed {
		return counterpartyID, s.OwnerID
	}
	return s.OwnerID, counterpartyID
}
