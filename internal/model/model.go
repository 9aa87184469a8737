package model

import (
	"github.com/LeonardoBeccarini/irrigation_agent/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_agent/internal/model/messages"
)

// Alias per esporre tipi comuni ai servizi

type (
	Reading          = entities.Reading
	Verdict          = entities.Verdict
	RelayState       = entities.RelayState
	Session          = entities.Session
	Zone             = entities.Zone
	ReadingReport    = messages.ReadingReport
	StateChangeEvent = messages.StateChangeEvent
	DecisionEvent    = messages.IrrigationDecisionEvent
	ResultEvent      = messages.IrrigationResultEvent
)

const (
	RelayOn  = entities.RelayOn
	RelayOff = entities.RelayOff

	VerdictUnknown  = entities.VerdictUnknown
	VerdictSkip     = entities.VerdictSkip
	VerdictIrrigate = entities.VerdictIrrigate
)
