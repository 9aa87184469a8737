package messages

import "time"

// IrrigationResultEvent is published at the end (or failure) of a pulse.
type IrrigationResultEvent struct {
	FieldID   string        `json:"field_id"`
	TicketID  string        `json:"ticket_id"`
	Status    string        `json:"status"` // "OK" | "FAIL"
	Duration  time.Duration `json:"duration"`
	Reason    string        `json:"reason"` // "done" | "turn_on_failed" | "stuck_on"
	StartedAt time.Time     `json:"started_at"`
	Timestamp time.Time     `json:"timestamp"`
}
