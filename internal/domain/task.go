package domain

import "time"

// TaskType identifies a post-commit background effect
type TaskType string

const (
	TaskGenerateArtifacts TaskType = "GENERATE_ARTIFACTS"
	TaskNotifyConfirmed   TaskType = "NOTIFY_CONFIRMED"
	TaskDispatchPayout    TaskType = "DISPATCH_PAYOUT"
)

// Task is the message enqueued after a transaction commits
type Task struct {
	ID            string    `json:"id"`
	Type          TaskType  `json:"type"`
	ReservationID string    `json:"reservation_id,omitempty"`
	PayoutID      string    `json:"payout_id,omitempty"`
	Attempt       int       `json:"attempt"`
	CreatedAt     time.Time `json:"created_at"`
}

// Key returns the partition key, keeping tasks of one reservation ordered
func (t *Task) Key() string {
	if t.ReservationID != "" {
		return t.ReservationID
	}
	return t.PayoutID
}

// ConfirmationNotice is published to the notification topic
type ConfirmationNotice struct {
	ReservationID string    `json:"reservation_id"`
	BuyerID       string    `json:"buyer_id"`
	Code          string    `json:"code"`
	UnitID        string    `json:"unit_id"`
	Quantity      int       `json:"quantity"`
	Timestamp     time.Time `json:"timestamp"`
}
