package entities

import "strings"

// Verdict is the irrigation decision for a cycle.
// The zero value is VerdictUnknown: nobody produced a decision.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictSkip
	VerdictIrrigate
)

func (v Verdict) String() string {
	switch v {
	case VerdictSkip:
		return "SKIP"
	case VerdictIrrigate:
		return "IRRIGATE"
	default:
		return "UNKNOWN"
	}
}

// ParseVerdict maps a backend action ("IRRIGATE" / "SKIP") to a Verdict.
// Anything else is not a verdict.
func ParseVerdict(action string) (Verdict, bool) {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case "IRRIGATE":
		return VerdictIrrigate, true
	case "SKIP":
		return VerdictSkip, true
	}
	return VerdictUnknown, false
}
