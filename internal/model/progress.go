package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type ProgressStatus string

const (
	ProgressSelected             ProgressStatus = "selected"
	ProgressScheduled            ProgressStatus = "scheduled"
	ProgressInProgress           ProgressStatus = "in_progress"
	ProgressAwaitingConfirmation ProgressStatus = "awaiting_confirmation"
	ProgressCompleted            ProgressStatus = "completed"
	ProgressDisputed             ProgressStatus = "disputed"
	ProgressCancelled            ProgressStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s ProgressStatus) Terminal() bool {
	switch s {
	case ProgressCompleted, ProgressCancelled, ProgressDisputed:
		return true
	}
	return false
}

type Confirmation struct {
	Confirmed bool       `json:"confirmed"`
	At        *time.Time `json:"at,omitempty"`
}

type Survey struct {
	Submitted bool            `json:"submitted"`
	At        *time.Time      `json:"at,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Progress tracks one accepted application from selection to settlement.
type Progress struct {
	ID             int64              `json:"id"`
	ApplicationID  int64              `json:"application_id"`
	ServiceID      int64              `json:"service_id"`
	ProviderID     int64              `json:"provider_id"`
	ConsumerID     int64              `json:"consumer_id"`
	Status         ProgressStatus     `json:"status"`
	Hours          decimal.Decimal    `json:"hours"`
	StartConfirmed Pair[Confirmation] `json:"start_confirmed"`
	Surveys        Pair[Survey]       `json:"surveys"`
	ScheduledDate  string             `json:"scheduled_date"`
	ScheduledTime  string             `json:"scheduled_time"`
	AgreedLocation string             `json:"agreed_location"`
	SurveyDeadline *time.Time         `json:"survey_deadline,omitempty"`
	SelectedAt     time.Time          `json:"selected_at"`
	ScheduledAt    *time.Time         `json:"scheduled_at,omitempty"`
	StartedAt      *time.Time         `json:"started_at,omitempty"`
	FinishedAt     *time.Time         `json:"finished_at,omitempty"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// RoleOf resolves the role a user plays on this record.
func (p *Progress) RoleOf(userID int64) (Role, bool) {
	switch userID {
	case p.ProviderID:
		return RoleProvider, true
	case p.ConsumerID:
		return RoleConsumer, true
	}
	return 0, false
}

// PartyID returns the user holding the given role.
func (p *Progress) PartyID(r Role) int64 {
	if r == RoleConsumer {
		return p.ConsumerID
	}
	return p.ProviderID
}

func (p *Progress) BothStartConfirmed() bool {
	return p.StartConfirmed.Of(RoleProvider).Confirmed && p.StartConfirmed.Of(RoleConsumer).Confirmed
}

func (p *Progress) BothSurveysSubmitted() bool {
	return p.Surveys.Of(RoleProvider).Submitted && p.Surveys.Of(RoleConsumer).Submitted
}
