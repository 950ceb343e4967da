package model

import "time"

type ApplicationStatus string

const (
	ApplicationPending   ApplicationStatus = "pending"
	ApplicationAccepted  ApplicationStatus = "accepted"
	ApplicationRejected  ApplicationStatus = "rejected"
	ApplicationCancelled ApplicationStatus = "cancelled"
	ApplicationWithdrawn ApplicationStatus = "withdrawn"
)

type Application struct {
	ID          int64             `json:"id"`
	ServiceID   int64             `json:"service_id"`
	ApplicantID int64             `json:"applicant_id"`
	Status      ApplicationStatus `json:"status"`
	Message     string            `json:"message"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
