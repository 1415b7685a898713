package present

import "fmt"

type State int32

const (
	// StateAcquired means an image is acquired and the next Present will render into it
	StateAcquired State = iota
	// StateRendering is held while the frame's submission is issued against the acquired image
	StateRendering
	// StatePresented means the image was queued for presentation and the next one is not yet acquired
	StatePresented
	// StateMinimized means the surface has a zero extent. Present only submits.
	StateMinimized
	// StateRebuilding is held while the swapchain is being recreated
	StateRebuilding
	// StateLost means a hard failure left the surface unusable
	StateLost
)

var stateMapping = map[State]string{
	StateAcquired:   "StateAcquired",
	StateRendering:  "StateRendering",
	StatePresented:  "StatePresented",
	StateMinimized:  "StateMinimized",
	StateRebuilding: "StateRebuilding",
	StateLost:       "StateLost",
}

func (s State) String() string {
	str, ok := stateMapping[s]
	if !ok {
		return fmt.Sprintf("State(%d)", int32(s))
	}
	return str
}
