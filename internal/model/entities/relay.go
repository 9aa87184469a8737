package entities

// RelayState indicates whether the pump relay is energized.
type RelayState string

const (
	RelayOff RelayState = "off"
	RelayOn  RelayState = "on"
)

// RelayStateOf maps a boolean output level to a RelayState.
func RelayStateOf(on bool) RelayState {
	if on {
		return RelayOn
	}
	return RelayOff
}
