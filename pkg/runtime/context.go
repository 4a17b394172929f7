package runtime

import "github.com/fraudscore/rex/pkg/compiler"

// ExecutionContext is the per-invocation mutable holder described by
// spec §2 item 5: the bound transaction and profile records plus the
// growing action queue. One is created per Engine.Execute call, consumed,
// and its pieces are folded into the returned ExecutionResult.
type ExecutionContext struct {
	Txn     *Record
	Profile *Record
	Actions []Action
}

func newExecutionContext(txn, profile *Record) *ExecutionContext {
	return &ExecutionContext{Txn: txn, Profile: profile, Actions: make([]Action, 0, 8)}
}

func (ctx *ExecutionContext) record(rec compiler.RecordID) *Record {
	if rec == compiler.RecTxn {
		return ctx.Txn
	}
	return ctx.Profile
}
