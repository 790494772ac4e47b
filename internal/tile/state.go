package tile

import "fmt"

// State is the load state of a tile.
type State int

const (
	// Unloaded tiles need a fetch.
	Unloaded State = iota
	// Loading tiles have a job running; further jobs for them are no-ops.
	Loading
	// Loaded tiles carry a usable image.
	Loaded
	// Error tiles failed terminally and show the error image until retried.
	Error
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
