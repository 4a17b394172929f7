package runtime

import (
	"time"

	"github.com/fraudscore/rex/pkg/compiler"
	"github.com/fraudscore/rex/pkg/logging"
	"github.com/fraudscore/rex/pkg/parser"
	"github.com/fraudscore/rex/pkg/validator"
)

// Engine holds one compiled, immutable program and offers the façade of
// spec §4.5. It carries no mutable state, so Execute is safe to call
// concurrently from multiple goroutines sharing one Engine, per §5.
// Grounded on the shape of the original's lib.rs RuleEngine facade.
type Engine struct {
	prog *compiler.Program
}

// RuleMetadata reflects one entry of Engine.RulesMetadata, in the
// compiled priority-sorted order.
type RuleMetadata struct {
	Name     string
	Priority int32
	Enabled  bool
}

// ExecutionMetadata carries the bookkeeping spec §3 requires alongside an
// ExecutionResult.
type ExecutionMetadata struct {
	ExecutedRules  []string
	SkippedRules   []string
	RuleErrors     map[string]error
	RuleTimings    map[string]time.Duration
	TotalDuration  time.Duration
	ShortCircuited bool
}

// ExecutionResult is what Engine.Execute returns: the (possibly mutated)
// records, the emitted action queue, and execution metadata.
type ExecutionResult struct {
	Transaction *Record
	Profile     *Record
	Actions     []Action
	Metadata    ExecutionMetadata
}

// FromDSL runs the full pipeline (lex, parse, compile) and returns a
// ready-to-execute Engine, or the first CompileError encountered.
func FromDSL(source string) (*Engine, error) {
	prog, err := parser.Parse(source)
	if err != nil {
		return nil, err
	}
	bc, err := compiler.Compile(prog)
	if err != nil {
		return nil, err
	}
	return &Engine{prog: bc}, nil
}

// ValidateDSL runs the compile pipeline without retaining the program,
// for a host that wants to check DSL syntax before persisting it.
func ValidateDSL(source string) error {
	_, err := FromDSL(source)
	return err
}

// FromBytecode deserializes a container produced by ToBytecode, applying
// pkg/validator's structural checks before an Engine is handed back, per
// spec §4.5 and §6.
func FromBytecode(data []byte) (*Engine, error) {
	prog, err := compiler.Decode(data)
	if err != nil {
		return nil, err
	}
	if err := validator.Validate(prog); err != nil {
		return nil, err
	}
	return &Engine{prog: prog}, nil
}

// ToBytecode serializes the engine's compiled program deterministically.
func (e *Engine) ToBytecode() ([]byte, error) {
	return compiler.Encode(e.prog)
}

// RulesMetadata reflects the compiled, priority-sorted rule order.
func (e *Engine) RulesMetadata() []RuleMetadata {
	out := make([]RuleMetadata, len(e.prog.Rules))
	for i, r := range e.prog.Rules {
		out[i] = RuleMetadata{Name: r.Name, Priority: r.Priority, Enabled: r.Enabled}
	}
	return out
}

// Execute runs every enabled rule in priority order against transaction
// and profile, per the protocol of spec §4.4. This is the hot path.
func (e *Engine) Execute(transaction, profile *Record) ExecutionResult {
	start := time.Now()
	ctx := newExecutionContext(transaction, profile)
	vm := NewVM(e.prog)

	meta := ExecutionMetadata{
		RuleErrors:  map[string]error{},
		RuleTimings: map[string]time.Duration{},
	}

	for _, rule := range e.prog.Rules {
		if !rule.Enabled {
			meta.SkippedRules = append(meta.SkippedRules, rule.Name)
			continue
		}

		ruleStart := time.Now()
		outcome, err := vm.runRule(rule, ctx)
		meta.RuleTimings[rule.Name] = time.Since(ruleStart)
		meta.ExecutedRules = append(meta.ExecutedRules, rule.Name)

		if err != nil {
			// Runtime errors abort only the current rule, per spec §7;
			// partial mutations and actions emitted before the fault
			// stay applied (DESIGN.md §"Open Question decisions" #1).
			meta.RuleErrors[rule.Name] = err
			logging.LogError(logging.Logger, err)
			continue
		}

		if outcome == outcomeHalted {
			meta.ShortCircuited = true
			break
		}
	}

	meta.TotalDuration = time.Since(start)

	return ExecutionResult{
		Transaction: transaction,
		Profile:     profile,
		Actions:     ctx.Actions,
		Metadata:    meta,
	}
}
