package instance

// PowerState is the power condition of an instance as this system
// tracks it. Transitions happen only through lifecycle operations or by
// querying the management gateway.
type PowerState string

const (
	// PowerAbsent means no definition exists in the management domain.
	PowerAbsent PowerState = "absent"
	// PowerNoState means the gateway could not report a state.
	PowerNoState PowerState = "nostate"
	PowerRunning PowerState = "running"
	PowerPaused  PowerState = "paused"
	// PowerShutdown means the instance is defined but logged off.
	PowerShutdown  PowerState = "shutdown"
	PowerCrashed   PowerState = "crashed"
	PowerSuspended PowerState = "suspended"
)

// ParseRemotePowerState maps the gateway's power report to a
// PowerState. The gateway only distinguishes on and off; anything else
// maps to PowerNoState.
func ParseRemotePowerState(s string) PowerState {
	switch s {
	case "on":
		return PowerRunning
	case "off":
		return PowerShutdown
	default:
		return PowerNoState
	}
}
