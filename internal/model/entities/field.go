package entities

// Zone is the single irrigated area this agent controls: one moisture probe, one relay.
type Zone struct {
	ID        string `json:"field_id"`             // zone identifier reported to the backend
	CropStage string `json:"crop_stage,omitempty"` // e.g. "vegetative", "flowering"
	Location  string `json:"location,omitempty"`   // free-form, used by the backend for weather lookups
}
