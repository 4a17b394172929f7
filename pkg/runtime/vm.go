package runtime

import (
	"math"

	"github.com/fraudscore/rex/pkg/compiler"
	"github.com/fraudscore/rex/pkg/logging"
	"github.com/fraudscore/rex/pkg/value"
)

const (
	initialStackSize  = 256
	initialFrameDepth = 32
	maxStackDepth     = 1 << 16
	maxFrameDepth     = 1024
)

// VM evaluates a compiled compiler.Program against an ExecutionContext,
// per the fetch-decode-dispatch protocol of spec §4.4. Grounded on the
// dispatch-loop shape of the original's runtime/vm.rs (a single match over
// the instruction, arithmetic via wrapping ops, div/mod-by-zero handling)
// adapted to a slot-indexed CallFrame stack instead of name-keyed locals.
type VM struct {
	prog   *compiler.Program
	stack  []value.Value
	frames []CallFrame
}

// NewVM returns a VM pre-sized per spec §4.4 ("value stack pre-sized e.g.
// 256 slots, growable; call-frame stack pre-sized e.g. 32 frames").
func NewVM(prog *compiler.Program) *VM {
	return &VM{
		prog:   prog,
		stack:  make([]value.Value, 0, initialStackSize),
		frames: make([]CallFrame, 0, initialFrameDepth),
	}
}

type runOutcome int

const (
	outcomeCompleted runOutcome = iota
	outcomeHalted
)

func (vm *VM) push(v value.Value) error {
	if len(vm.stack) >= maxStackDepth {
		return &logging.EngineError{Kind: logging.KindStackOverflow, Message: "value stack overflow"}
	}
	vm.stack = append(vm.stack, v)
	return nil
}

func (vm *VM) pop() value.Value {
	n := len(vm.stack) - 1
	v := vm.stack[n]
	vm.stack = vm.stack[:n]
	return v
}

// runRule executes the bytecode span for one rule against ctx, starting at
// rule.EntryIP and stopping at the matching EndRule or Halt (or the first
// runtime error, which the caller annotates and treats as this rule's
// only outcome, per spec §7's per-rule error isolation policy).
func (vm *VM) runRule(rule compiler.RuleDef, ctx *ExecutionContext) (runOutcome, error) {
	vm.stack = vm.stack[:0]
	vm.frames = vm.frames[:0]

	// Rules have no OpCall reserving their locals the way function bodies
	// do, so the root frame's slot count is recovered by scanning the
	// rule's own span for the highest local slot it addresses.
	localCount := int32(0)
	for ip := rule.EntryIP; ip < rule.EndIP; ip++ {
		ins := vm.prog.Instructions[ip]
		if ins.Op == compiler.OpLoadLocal || ins.Op == compiler.OpStoreLocal {
			if ins.A+1 > localCount {
				localCount = ins.A + 1
			}
		}
	}
	for i := int32(0); i < localCount; i++ {
		vm.stack = append(vm.stack, value.Nil)
	}
	vm.frames = append(vm.frames, CallFrame{Base: 0, LocalCount: localCount, ReturnIP: rootFrameReturnIP})

	ip := rule.EntryIP
	for {
		ins := vm.prog.Instructions[ip]
		nextIP := ip + 1

		switch ins.Op {
		case compiler.OpBeginRule:
			// bracket marker only; nothing to execute

		case compiler.OpEndRule:
			return outcomeCompleted, nil

		case compiler.OpHalt:
			return outcomeHalted, nil

		case compiler.OpLoadConst:
			if err := vm.push(vm.prog.Constants[ins.A]); err != nil {
				return 0, err
			}

		case compiler.OpLoadLocal:
			frame := vm.frames[len(vm.frames)-1]
			if err := vm.push(vm.stack[frame.Base+int(ins.A)]); err != nil {
				return 0, err
			}

		case compiler.OpStoreLocal:
			frame := vm.frames[len(vm.frames)-1]
			v := vm.pop()
			vm.stack[frame.Base+int(ins.A)] = v

		case compiler.OpLoadField:
			rec := ctx.record(compiler.RecordID(ins.A))
			fname := vm.prog.Constants[ins.B].AsStr()
			if err := vm.push(rec.Get(fname)); err != nil {
				return 0, err
			}

		case compiler.OpStoreField:
			rec := ctx.record(compiler.RecordID(ins.A))
			fname := vm.prog.Constants[ins.B].AsStr()
			v := vm.pop()
			rec.Set(fname, v)

		case compiler.OpAdd, compiler.OpSub, compiler.OpMul, compiler.OpDiv, compiler.OpMod:
			y := vm.pop()
			x := vm.pop()
			result, err := vm.arith(ins.Op, x, y, rule.Name, int(ip))
			if err != nil {
				return 0, err
			}
			if err := vm.push(result); err != nil {
				return 0, err
			}

		case compiler.OpNeg:
			x := vm.pop()
			switch x.Kind() {
			case value.Int:
				if err := vm.push(value.FromInt(-x.AsInt())); err != nil {
					return 0, err
				}
			case value.Float:
				if err := vm.push(value.FromFloat(-x.AsFloat())); err != nil {
					return 0, err
				}
			default:
				return 0, typeErr(rule.Name, int(ip), "unary - requires a numeric operand")
			}

		case compiler.OpEq, compiler.OpNe:
			y := vm.pop()
			x := vm.pop()
			eq := x.Equal(y)
			if ins.Op == compiler.OpNe {
				eq = !eq
			}
			if err := vm.push(value.FromBool(eq)); err != nil {
				return 0, err
			}

		case compiler.OpLt, compiler.OpLe, compiler.OpGt, compiler.OpGe:
			y := vm.pop()
			x := vm.pop()
			cmp, ok := x.Compare(y)
			if !ok {
				return 0, typeErr(rule.Name, int(ip), "operands are not orderable")
			}
			var result bool
			switch ins.Op {
			case compiler.OpLt:
				result = cmp < 0
			case compiler.OpLe:
				result = cmp <= 0
			case compiler.OpGt:
				result = cmp > 0
			case compiler.OpGe:
				result = cmp >= 0
			}
			if err := vm.push(value.FromBool(result)); err != nil {
				return 0, err
			}

		case compiler.OpNot:
			x := vm.pop()
			if err := vm.push(value.FromBool(!x.Truthy())); err != nil {
				return 0, err
			}

		case compiler.OpAnd:
			y := vm.pop()
			x := vm.pop()
			if err := vm.push(value.FromBool(x.Truthy() && y.Truthy())); err != nil {
				return 0, err
			}

		case compiler.OpOr:
			y := vm.pop()
			x := vm.pop()
			if err := vm.push(value.FromBool(x.Truthy() || y.Truthy())); err != nil {
				return 0, err
			}

		case compiler.OpJump:
			nextIP = ins.A

		case compiler.OpJumpIfFalse:
			cond := vm.pop()
			if !cond.Truthy() {
				nextIP = ins.A
			}

		case compiler.OpJumpIfTrue:
			cond := vm.pop()
			if cond.Truthy() {
				nextIP = ins.A
			}

		case compiler.OpCall:
			fn := vm.prog.Functions[ins.A]
			argc := int(ins.B)
			base := len(vm.stack) - argc
			for i := argc; i < int(fn.LocalCount); i++ {
				if err := vm.push(value.Nil); err != nil {
					return 0, err
				}
			}
			if len(vm.frames) >= maxFrameDepth {
				return 0, &logging.EngineError{Kind: logging.KindStackOverflow, Message: "call frame overflow", Rule: rule.Name, IP: int(ip)}
			}
			vm.frames = append(vm.frames, CallFrame{Base: base, LocalCount: fn.LocalCount, ReturnIP: nextIP})
			nextIP = fn.EntryIP

		case compiler.OpReturn:
			retVal := vm.pop()
			frame := vm.frames[len(vm.frames)-1]
			vm.frames = vm.frames[:len(vm.frames)-1]
			vm.stack = vm.stack[:frame.Base]
			if err := vm.push(retVal); err != nil {
				return 0, err
			}
			nextIP = frame.ReturnIP

		case compiler.OpReturnVoid:
			frame := vm.frames[len(vm.frames)-1]
			vm.frames = vm.frames[:len(vm.frames)-1]
			vm.stack = vm.stack[:frame.Base]
			if err := vm.push(value.Nil); err != nil {
				return 0, err
			}
			nextIP = frame.ReturnIP

		case compiler.OpEmitCreateCase:
			reasonV := vm.pop()
			severityV := vm.pop()
			severity, err := wantStr(severityV, rule.Name, int(ip))
			if err != nil {
				return 0, err
			}
			reason, err := wantStr(reasonV, rule.Name, int(ip))
			if err != nil {
				return 0, err
			}
			ctx.Actions = append(ctx.Actions, Action{Kind: ActionCreateCase, Severity: severity, Reason: reason})

		case compiler.OpEmitCreateComment:
			commentV := vm.pop()
			comment, err := wantStr(commentV, rule.Name, int(ip))
			if err != nil {
				return 0, err
			}
			ctx.Actions = append(ctx.Actions, Action{Kind: ActionCreateComment, Comment: comment})

		case compiler.OpEmitSendAuthAdvise:
			templateV := vm.pop()
			channelV := vm.pop()
			channel, err := wantStr(channelV, rule.Name, int(ip))
			if err != nil {
				return 0, err
			}
			template, err := wantStr(templateV, rule.Name, int(ip))
			if err != nil {
				return 0, err
			}
			ctx.Actions = append(ctx.Actions, Action{Kind: ActionSendAuthAdvise, Channel: channel, Template: template})

		case compiler.OpEmitSetFraudScore:
			raw := vm.pop()
			if !raw.IsNumeric() {
				return 0, &logging.EngineError{Kind: logging.KindValidation, Message: "setFraudScore requires a numeric argument", Rule: rule.Name, IP: int(ip)}
			}
			score := math.Min(1.0, math.Max(0.0, raw.Float64()))
			ctx.Actions = append(ctx.Actions, Action{Kind: ActionSetFraudScore, Score: score})

		case compiler.OpEmitSetDecision:
			raw := vm.pop()
			if raw.Kind() != value.Str || !isValidDecision(raw.AsStr()) {
				return 0, &logging.EngineError{Kind: logging.KindValidation, Message: "setDecision requires one of ALLOW, BLOCK, REVIEW", Rule: rule.Name, IP: int(ip)}
			}
			ctx.Actions = append(ctx.Actions, Action{Kind: ActionSetDecision, Decision: raw.AsStr()})

		case compiler.OpEmitCustom:
			argc := int(ins.B)
			args := make([]value.Value, argc)
			for i := argc - 1; i >= 0; i-- {
				args[i] = vm.pop()
			}
			name := vm.prog.Constants[ins.A].AsStr()
			ctx.Actions = append(ctx.Actions, Action{Kind: ActionCustom, Name: name, Args: args})

		case compiler.OpPop:
			vm.pop()

		case compiler.OpDup:
			top := vm.stack[len(vm.stack)-1]
			if err := vm.push(top); err != nil {
				return 0, err
			}

		default:
			return 0, typeErr(rule.Name, int(ip), "unknown opcode")
		}

		ip = nextIP
	}
}

// arith implements spec §4.4's numeric semantics: Int⊕Int stays Int with
// two's-complement wraparound; any Float operand widens the result to
// Float; Add on two Strs concatenates; any other string operand is a
// TypeError; integer Div/Mod by zero is an ArithmeticError; float Div/Mod
// by zero follows IEEE-754 (±Inf/NaN, no error); Mod follows the sign of
// the dividend, via Go's % operator for ints and math.Mod for floats.
func (vm *VM) arith(op compiler.Opcode, x, y value.Value, rule string, ip int) (value.Value, error) {
	if x.Kind() == value.Str || y.Kind() == value.Str {
		if op == compiler.OpAdd && x.Kind() == value.Str && y.Kind() == value.Str {
			return value.FromStr(x.AsStr() + y.AsStr()), nil
		}
		return value.Nil, typeErr(rule, ip, "arithmetic operator applied to a non-numeric string operand")
	}
	if !x.IsNumeric() || !y.IsNumeric() {
		return value.Nil, typeErr(rule, ip, "arithmetic operator applied to a non-numeric operand")
	}

	if x.Kind() == value.Int && y.Kind() == value.Int {
		a, b := x.AsInt(), y.AsInt()
		switch op {
		case compiler.OpAdd:
			return value.FromInt(a + b), nil
		case compiler.OpSub:
			return value.FromInt(a - b), nil
		case compiler.OpMul:
			return value.FromInt(a * b), nil
		case compiler.OpDiv:
			if b == 0 {
				return value.Nil, &logging.EngineError{Kind: logging.KindArithmetic, Message: "integer division by zero", Rule: rule, IP: ip}
			}
			return value.FromInt(a / b), nil
		case compiler.OpMod:
			if b == 0 {
				return value.Nil, &logging.EngineError{Kind: logging.KindArithmetic, Message: "integer modulo by zero", Rule: rule, IP: ip}
			}
			return value.FromInt(a % b), nil
		}
	}

	a, b := x.Float64(), y.Float64()
	switch op {
	case compiler.OpAdd:
		return value.FromFloat(a + b), nil
	case compiler.OpSub:
		return value.FromFloat(a - b), nil
	case compiler.OpMul:
		return value.FromFloat(a * b), nil
	case compiler.OpDiv:
		return value.FromFloat(a / b), nil
	case compiler.OpMod:
		return value.FromFloat(math.Mod(a, b)), nil
	}
	return value.Nil, typeErr(rule, ip, "unsupported arithmetic operator")
}

func isValidDecision(s string) bool {
	return s == "ALLOW" || s == "BLOCK" || s == "REVIEW"
}

func typeErr(rule string, ip int, msg string) *logging.EngineError {
	return &logging.EngineError{Kind: logging.KindType, Message: msg, Rule: rule, IP: ip}
}

func wantStr(v value.Value, rule string, ip int) (string, error) {
	if v.Kind() != value.Str {
		return "", typeErr(rule, ip, "expected a string argument")
	}
	return v.AsStr(), nil
}
