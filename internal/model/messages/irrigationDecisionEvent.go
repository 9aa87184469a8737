package messages

import "time"

// IrrigationDecisionEvent is published by the agent for every cycle to record WHY/WHAT was decided.
type IrrigationDecisionEvent struct {
	FieldID          string    `json:"field_id"`
	Verdict          string    `json:"verdict"` // IRRIGATE | SKIP | UNKNOWN
	Source           string    `json:"source"`  // remote | local | none
	Reason           string    `json:"reason"`
	Moisture         float64   `json:"moisture"`
	Threshold        float64   `json:"threshold_pct"` // effective threshold used offline
	DryStreak        int       `json:"dry_streak"`
	IrrigationsToday int       `json:"irrigations_today"`
	Timestamp        time.Time `json:"timestamp"`
}
