package webhook

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidPayload marks callbacks whose shape does not match the
// provider's schema. Such payloads never mutate state.
var ErrInvalidPayload = errors.New("webhook: invalid payload")

// Job statuses the provider reports.
const (
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
	JobStatusCanceled   = "canceled"
)

// JobPayload is the job section of a provider callback.
type JobPayload struct {
	ID         string   `json:"id" validate:"required"`
	Status     string   `json:"status" validate:"required,oneof=processing succeeded failed canceled"`
	Engine     string   `json:"engine"`
	OutputURLs []string `json:"output_urls" validate:"required_if=Status succeeded,dive,url"`
	Error      string   `json:"error"`
}

// Payload is the provider's webhook body. EventID may be absent on older
// provider versions; the reconciler falls back to a payload hash then.
type Payload struct {
	EventID string     `json:"event_id"`
	Type    string     `json:"type" validate:"required"`
	Job     JobPayload `json:"job" validate:"required"`
}

var validate = validator.New()

// ParsePayload decodes and validates a raw provider callback body.
func ParsePayload(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &p, nil
}
