package messages

import (
	"time"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/model/entities"
)

// ReadingReport is the body POSTed to the backend every cycle.
type ReadingReport struct {
	FieldID      string   `json:"field_id"`
	CropStage    string   `json:"crop_stage,omitempty"`
	Location     string   `json:"location,omitempty"`
	Moisture     float64  `json:"moisture"`
	TemperatureC *float64 `json:"temperature_c"`
	Humidity     *float64 `json:"humidity"`
	Timestamp    string   `json:"timestamp"` // RFC3339
}

// NewReadingReport flattens a reading and its zone into the wire format.
func NewReadingReport(zone entities.Zone, r entities.Reading) ReadingReport {
	return ReadingReport{
		FieldID:      zone.ID,
		CropStage:    zone.CropStage,
		Location:     zone.Location,
		Moisture:     r.Moisture,
		TemperatureC: r.TemperatureC,
		Humidity:     r.Humidity,
		Timestamp:    r.Timestamp.Format(time.RFC3339),
	}
}

// AdviceResponse is the part of the backend reply the agent cares about.
// Action is nil when the backend did not decide.
type AdviceResponse struct {
	Action *string `json:"action"`
}
