package model

import "time"

type MessageType string

const (
	MessageText             MessageType = "text"
	MessageScheduleProposal MessageType = "schedule_proposal"
)

type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "pending"
	ProposalAccepted  ProposalStatus = "accepted"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalCancelled ProposalStatus = "cancelled"
)

// Proposal is the schedule payload carried by a schedule_proposal message.
type Proposal struct {
	Date      string         `json:"proposed_date"`
	StartTime string         `json:"proposed_start_time"`
	EndTime   string         `json:"proposed_end_time"`
	Location  string         `json:"proposed_location"`
	Status    ProposalStatus `json:"proposal_status"`
}

type Message struct {
	ID            int64       `json:"id"`
	ApplicationID int64       `json:"application_id"`
	ProgressID    *int64      `json:"progress_id,omitempty"`
	SenderID      int64       `json:"sender_id"`
	ReceiverID    int64       `json:"receiver_id"`
	Body          string      `json:"body"`
	Type          MessageType `json:"message_type"`
	Proposal      *Proposal   `json:"proposal,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}
