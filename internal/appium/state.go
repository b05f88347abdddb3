package appium

import "strings"

// Mode selects the target platform. iOS is the primary platform; Android
// skips the iOS tooling sweep on stop.
type Mode int

const (
	ModeIOS Mode = iota
	ModeAndroid
)

func (m Mode) String() string {
	if m == ModeAndroid {
		return "android"
	}
	return "ios"
}

// ParseMode maps an OS name to a Mode. Anything other than "android",
// ignoring case and surrounding space, is iOS.
func ParseMode(os string) Mode {
	if strings.EqualFold(strings.TrimSpace(os), "android") {
		return ModeAndroid
	}
	return ModeIOS
}

// State is the supervisor lifecycle state.
type State int

const (
	StateStopped State = iota
	StateLaunching
	StateReady
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateLaunching:
		return "launching"
	case StateReady:
		return "ready"
	case StateTerminating:
		return "terminating"
	default:
		return "stopped"
	}
}
