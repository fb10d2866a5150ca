package runner

// State is a step of a single run. States only move forward.
type State int

const (
	NotStarted State = iota
	RootCheckPassed
	DevicesDiscovered
	PersistenceEnabled
	DisplayConfigReady
	PerfLevelsResolved
	Applying
	Done
)

var stateNames = [...]string{
	NotStarted:         "not_started",
	RootCheckPassed:    "root_check_passed",
	DevicesDiscovered:  "devices_discovered",
	PersistenceEnabled: "persistence_enabled",
	DisplayConfigReady: "display_config_ready",
	PerfLevelsResolved: "perf_levels_resolved",
	Applying:           "applying",
	Done:               "done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
