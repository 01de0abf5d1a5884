package call

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// Phase is the externally visible state of a [Loop].
type Phase string

// Loop phases.
const (
	PhaseIdle      Phase = "idle"
	PhaseListening Phase = "listening"
	PhaseSpeaking  Phase = "speaking"
)

// Events driving the phase machine.
const (
	evListen = "listen"
	evSpeak  = "speak"
	evStop   = "stop"
)

// newMachine builds the phase machine. onEnter runs after every real
// transition. Recognition and the reply fetch happen while the phase is
// still listening.
//
//	idle ──listen──▶ listening ──speak──▶ speaking
//	 ▲                  ▲                    │
//	 └──────stop────────┴───────listen───────┘
//
// A greeting enters speaking straight from idle.
func newMachine(onEnter func(Phase)) *fsm.FSM {
	all := []string{string(PhaseIdle), string(PhaseListening), string(PhaseSpeaking)}
	return fsm.NewFSM(
		string(PhaseIdle),
		fsm.Events{
			{Name: evListen, Src: all, Dst: string(PhaseListening)},
			{Name: evSpeak, Src: []string{string(PhaseIdle), string(PhaseListening)}, Dst: string(PhaseSpeaking)},
			{Name: evStop, Src: all, Dst: string(PhaseIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(Phase(e.Dst))
			},
		},
	)
}

// fire triggers ev. Staying in the same phase is not an error.
func fire(m *fsm.FSM, ev string) error {
	// Events must not observe the loop's cancellation or the transition
	// would be skipped.
	err := m.Event(context.Background(), ev)
	var same fsm.NoTransitionError
	if errors.As(err, &same) {
		return nil
	}
	return err
}
