package runtime

import "github.com/fraudscore/rex/pkg/value"

// ActionKind discriminates the Action payload variants of spec §3's table.
type ActionKind byte

const (
	ActionCreateCase ActionKind = iota
	ActionCreateComment
	ActionSendAuthAdvise
	ActionSetFraudScore
	ActionSetDecision
	ActionCustom
)

// Action is a side-effect record appended by the VM and carried out by the
// host; the engine never executes or acknowledges these itself (spec §6).
// Only the fields relevant to Kind are populated.
type Action struct {
	Kind ActionKind

	// CreateCase
	Severity string
	Reason   string

	// CreateComment
	Comment string

	// SendAuthAdvise
	Channel  string
	Template string

	// SetFraudScore
	Score float64

	// SetDecision
	Decision string

	// Custom
	Name string
	Args []value.Value
}
