package messages

import (
	"time"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/model/entities"
)

// StateChangeEvent is emitted whenever the relay output changes.
type StateChangeEvent struct {
	FieldID   string              `json:"field_id"`
	NewState  entities.RelayState `json:"new_state"`
	Duration  time.Duration       `json:"duration"` // planned on-time, 0 for off
	Timestamp time.Time           `json:"timestamp"`
}
