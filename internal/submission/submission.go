// internal/submission/submission.go
package submission

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status defines the lifecycle state of a submission
type Status string

const (
	// Pending submissions are awaiting payment
	Pending Status = "pending"
	// Confirmed submissions hold a permanent slot; the state is terminal
	Confirmed Status = "confirmed"
	// Expired is reserved for submissions never confirmed within the
	// retention window. Nothing transitions into it automatically.
	Expired Status = "expired"
)

// Submission represents one upload attempt awaiting payment
type Submission struct {
	ID              string  `json:"id"`
	PaymentAddress  string  `json:"payment_address"`
	PaymentAmount   float64 `json:"payment_amount"`
	Status          Status  `json:"status"`
	TransactionHash string  `json:"transaction_hash,omitempty"`
	CreatedAt       int64   `json:"created_at"`
	ConfirmedAt     int64   `json:"confirmed_at,omitempty"`
	SlotNumber      int64   `json:"slot_number,omitempty"`
}

// New creates a pending submission with the given payment terms
func New(paymentAddress string, paymentAmount float64) (*Submission, error) {
	if paymentAddress == "" {
		return nil, fmt.Errorf("payment address must not be empty")
	}
	if paymentAmount <= 0 {
		return nil, fmt.Errorf("payment amount must be positive")
	}

	return &Submission{
		ID:             uuid.New().String(),
		PaymentAddress: paymentAddress,
		PaymentAmount:  paymentAmount,
		Status:         Pending,
		CreatedAt:      time.Now().Unix(),
	}, nil
}

// Validate checks if the submission is internally consistent
func (s *Submission) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("submission ID must not be empty")
	}
	if s.PaymentAddress == "" {
		return fmt.Errorf("payment address must not be empty")
	}
	if s.PaymentAmount <= 0 {
		return fmt.Errorf("payment amount must be positive")
	}
	if s.CreatedAt <= 0 {
		return fmt.Errorf("creation timestamp must be set")
	}

	switch s.Status {
	case Pending:
		if s.SlotNumber != 0 || s.ConfirmedAt != 0 {
			return fmt.Errorf("pending submission must not carry a slot")
		}
	case Confirmed:
		if s.SlotNumber <= 0 {
			return fmt.Errorf("confirmed submission must carry a positive slot number")
		}
		if s.ConfirmedAt <= 0 {
			return fmt.Errorf("confirmed submission must carry a confirmation timestamp")
		}
	case Expired:
		if s.SlotNumber != 0 {
			return fmt.Errorf("expired submission must not carry a slot")
		}
	default:
		return fmt.Errorf("unknown status %q", s.Status)
	}

	return nil
}

// IsConfirmed reports whether the submission holds a slot
func (s *Submission) IsConfirmed() bool {
	return s.Status == Confirmed
}

// ToJSON serializes the submission to JSON
func (s *Submission) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// FromJSON deserializes a submission from JSON
func FromJSON(data []byte) (*Submission, error) {
	var s Submission
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to deserialize submission: %w", err)
	}
	return &s, nil
}

// Counters is the singleton aggregate record over confirmed submissions
type Counters struct {
	TotalCapacity       int64   `json:"total_capacity"`
	UsedSlots           int64   `json:"used_slots"`
	TotalValueCollected float64 `json:"total_value_collected"`
	LastUpdated         int64   `json:"last_updated"`
}

// AvailableSlots returns the number of slots still open for confirmation
func (c *Counters) AvailableSlots() int64 {
	if c.UsedSlots >= c.TotalCapacity {
		return 0
	}
	return c.TotalCapacity - c.UsedSlots
}
