package compiler

import (
	"sort"
	"strconv"

	"github.com/fraudscore/rex/pkg/ast"
	"github.com/fraudscore/rex/pkg/logging"
	"github.com/fraudscore/rex/pkg/value"
)

var builtinArity = map[string]int{
	"createCase":      2,
	"createComment":   1,
	"sendAuthAdvise":  2,
	"setFraudScore":   1,
	"setDecision":     1,
}

var builtinOpcode = map[string]Opcode{
	"createCase":     OpEmitCreateCase,
	"createComment":  OpEmitCreateComment,
	"sendAuthAdvise": OpEmitSendAuthAdvise,
	"setFraudScore":  OpEmitSetFraudScore,
	"setDecision":    OpEmitSetDecision,
}

// scope tracks slot assignment for one rule or function body being
// compiled: locals get a slot the first time they're written (via `let`
// or bare assignment), mirroring the original's create-on-first-store
// local semantics, but slot-indexed per spec §3's CallFrame instead of
// name-keyed.
type scope struct {
	slots map[string]int32
	next  int32
	// inRule is true when compiling a rule body (return -> Halt) and
	// false when compiling a function body (return -> Return/ReturnVoid).
	inRule bool
	// recordAliases resolves an identifier to a record base when it was
	// bound as a record-typed parameter of an inlined function (see
	// compileInlineCall). Empty/nil outside of an inlined call's body.
	recordAliases map[string]RecordID
}

func (s *scope) slotFor(name string) int32 {
	if idx, ok := s.slots[name]; ok {
		return idx
	}
	idx := s.next
	s.slots[name] = idx
	s.next++
	return idx
}

func (s *scope) slotIfKnown(name string) (int32, bool) {
	idx, ok := s.slots[name]
	return idx, ok
}

// Compiler lowers an ast.Program to a Program (bytecode). Grounded on the
// structure of the original's compiler/compiler.rs and compiler/mod.rs
// (compile functions first into a name-keyed table, then compile and
// priority-sort rules) adapted to Go's explicit error returns and to
// spec §4.3's absolute jump-index model instead of string labels.
type Compiler struct {
	prog      *Program
	funcIndex map[string]int32
	// inlineFuncs holds functions with at least one record-typed parameter
	// (a parameter used as `p.field` in the body). The bytecode format has
	// no notion of a runtime record reference, so these are never compiled
	// to a standalone callable body; instead each call site is expanded
	// in place, with the record parameter resolved to txn/profile
	// statically (see compileInlineCall and DESIGN.md's "Open Question
	// decisions" #3).
	inlineFuncs map[string]*ast.FunctionDecl
	// inlining names the record-parameter functions whose bodies are being
	// expanded right now, so a recursive expansion is rejected.
	inlining map[string]bool
}

// Compile lowers prog into bytecode, or returns the first CompileError.
func Compile(prog *ast.Program) (*Program, error) {
	c := &Compiler{prog: &Program{}, funcIndex: map[string]int32{}, inlineFuncs: map[string]*ast.FunctionDecl{}}

	var regular []*ast.FunctionDecl
	for _, fn := range prog.Functions {
		if len(recordParamsOf(fn)) == 0 {
			c.funcIndex[fn.Name] = int32(len(regular))
			regular = append(regular, fn)
		} else {
			c.inlineFuncs[fn.Name] = fn
		}
	}
	for _, fn := range regular {
		if err := c.compileFunction(fn); err != nil {
			return nil, err
		}
	}
	for i, r := range prog.Rules {
		if err := c.compileRule(r, i); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(c.prog.Rules, func(i, j int) bool {
		return c.prog.Rules[i].Priority > c.prog.Rules[j].Priority
	})
	return c.prog, nil
}

func (c *Compiler) emit(op Opcode, a, b int32) int32 {
	idx := int32(len(c.prog.Instructions))
	c.prog.Instructions = append(c.prog.Instructions, Instruction{Op: op, A: a, B: b})
	return idx
}

func (c *Compiler) patchTarget(idx int32) {
	c.prog.Instructions[idx].A = int32(len(c.prog.Instructions))
}

func (c *Compiler) compileFunction(fn *ast.FunctionDecl) error {
	entry := int32(len(c.prog.Instructions))
	sc := &scope{slots: map[string]int32{}}
	for _, p := range fn.Params {
		sc.slotFor(p)
	}
	for _, stmt := range fn.Body {
		if err := c.compileStmt(stmt, sc); err != nil {
			return err
		}
	}
	// A function whose body falls off the end without an explicit return
	// still needs to leave exactly one value on the stack, per spec §3's
	// call-frame depth invariant.
	c.emit(OpReturnVoid, 0, 0)

	fd := FunctionDef{Name: fn.Name, ParamNames: fn.Params, EntryIP: entry, LocalCount: sc.next}
	idx := c.funcIndex[fn.Name]
	for int32(len(c.prog.Functions)) <= idx {
		c.prog.Functions = append(c.prog.Functions, FunctionDef{})
	}
	c.prog.Functions[idx] = fd
	return nil
}

func (c *Compiler) compileRule(r *ast.RuleDecl, declOrder int) error {
	entry := int32(len(c.prog.Instructions))
	c.emit(OpBeginRule, int32(declOrder), 0)
	sc := &scope{slots: map[string]int32{}, inRule: true}
	for _, stmt := range r.Body {
		if err := c.compileStmt(stmt, sc); err != nil {
			return err
		}
	}
	c.emit(OpEndRule, 0, 0)
	end := int32(len(c.prog.Instructions))

	c.prog.Rules = append(c.prog.Rules, RuleDef{
		Name: r.Name, Priority: r.Priority, Enabled: r.Enabled, EntryIP: entry, EndIP: end,
	})
	return nil
}

func (c *Compiler) compileStmt(s ast.Stmt, sc *scope) error {
	switch st := s.(type) {
	case *ast.LetStmt:
		if err := c.compileExpr(st.Value, sc); err != nil {
			return err
		}
		c.emit(OpStoreLocal, sc.slotFor(st.Name), 0)
		return nil

	case *ast.AssignStmt:
		if st.Base == "" {
			if err := c.compileExpr(st.Value, sc); err != nil {
				return err
			}
			c.emit(OpStoreLocal, sc.slotFor(st.Name), 0)
			return nil
		}
		rec, ok := recordFor(st.Base, sc)
		if !ok {
			return logging.NewCompileError("unknown record \""+st.Base+"\"", st.Pos.Line, st.Pos.Column)
		}
		if err := c.compileExpr(st.Value, sc); err != nil {
			return err
		}
		nameIdx := c.prog.constIndex(value.FromStr(st.Name))
		c.emit(OpStoreField, int32(rec), nameIdx)
		return nil

	case *ast.IfStmt:
		return c.compileIf(st, sc)

	case *ast.ReturnStmt:
		if sc.inRule {
			if st.Value != nil {
				if err := c.compileExpr(st.Value, sc); err != nil {
					return err
				}
				c.emit(OpPop, 0, 0)
			}
			c.emit(OpHalt, 0, 0)
			return nil
		}
		if st.Value != nil {
			if err := c.compileExpr(st.Value, sc); err != nil {
				return err
			}
			c.emit(OpReturn, 0, 0)
		} else {
			c.emit(OpReturnVoid, 0, 0)
		}
		return nil

	case *ast.ExprStmt:
		if call, ok := st.Expr.(*ast.CallExpr); ok {
			return c.compileCallStatement(call, sc)
		}
		if err := c.compileExpr(st.Expr, sc); err != nil {
			return err
		}
		c.emit(OpPop, 0, 0)
		return nil

	default:
		return logging.NewCompileError("unsupported statement", 0, 0)
	}
}

func (c *Compiler) compileIf(st *ast.IfStmt, sc *scope) error {
	if err := c.compileExpr(st.Cond, sc); err != nil {
		return err
	}
	jifIdx := c.emit(OpJumpIfFalse, 0, 0)
	for _, s := range st.Then {
		if err := c.compileStmt(s, sc); err != nil {
			return err
		}
	}
	if st.ElseBlock == nil && st.ElseIf == nil {
		c.patchTarget(jifIdx)
		return nil
	}
	jmpEndIdx := c.emit(OpJump, 0, 0)
	c.patchTarget(jifIdx)
	if st.ElseIf != nil {
		if err := c.compileIf(st.ElseIf, sc); err != nil {
			return err
		}
	} else {
		for _, s := range st.ElseBlock {
			if err := c.compileStmt(s, sc); err != nil {
				return err
			}
		}
	}
	c.patchTarget(jmpEndIdx)
	return nil
}

// compileCallStatement handles a call used as a statement: a call to a
// declared user function discards its return value; a call to a reserved
// built-in action name lowers to the matching Emit* opcode; anything else
// lowers to EmitCustom, matching the original's fallback-to-custom-action
// behavior for action-call statements (see SPEC_FULL.md §C).
func (c *Compiler) compileCallStatement(call *ast.CallExpr, sc *scope) error {
	if fnIdx, ok := c.funcIndex[call.Name]; ok {
		for _, a := range call.Args {
			if err := c.compileExpr(a, sc); err != nil {
				return err
			}
		}
		c.emit(OpCall, fnIdx, int32(len(call.Args)))
		c.emit(OpPop, 0, 0)
		return nil
	}

	if fn, ok := c.inlineFuncs[call.Name]; ok {
		return c.compileInlineCall(fn, call, sc)
	}

	if arity, ok := builtinArity[call.Name]; ok {
		if len(call.Args) != arity {
			return logging.NewCompileError(
				call.Name+" expects "+strconv.Itoa(arity)+" argument(s), got "+strconv.Itoa(len(call.Args)),
				call.Pos.Line, call.Pos.Column)
		}
		for _, a := range call.Args {
			if err := c.compileExpr(a, sc); err != nil {
				return err
			}
		}
		c.emit(builtinOpcode[call.Name], 0, 0)
		return nil
	}

	nameIdx := c.prog.constIndex(value.FromStr(call.Name))
	for _, a := range call.Args {
		if err := c.compileExpr(a, sc); err != nil {
			return err
		}
	}
	c.emit(OpEmitCustom, nameIdx, int32(len(call.Args)))
	return nil
}

func (c *Compiler) compileExpr(e ast.Expr, sc *scope) error {
	switch x := e.(type) {
	case *ast.LiteralExpr:
		c.emit(OpLoadConst, c.prog.constIndex(x.Val), 0)
		return nil

	case *ast.IdentExpr:
		slot, ok := sc.slotIfKnown(x.Name)
		if !ok {
			return logging.NewCompileError("undefined local \""+x.Name+"\"", x.Pos.Line, x.Pos.Column)
		}
		c.emit(OpLoadLocal, slot, 0)
		return nil

	case *ast.FieldExpr:
		rec, ok := recordFor(x.Base, sc)
		if !ok {
			return logging.NewCompileError("unknown record \""+x.Base+"\"", x.Pos.Line, x.Pos.Column)
		}
		nameIdx := c.prog.constIndex(value.FromStr(x.Name))
		c.emit(OpLoadField, int32(rec), nameIdx)
		return nil

	case *ast.UnaryExpr:
		if err := c.compileExpr(x.X, sc); err != nil {
			return err
		}
		if x.Op == "!" {
			c.emit(OpNot, 0, 0)
		} else {
			c.emit(OpNeg, 0, 0)
		}
		return nil

	case *ast.BinaryExpr:
		return c.compileBinary(x, sc)

	case *ast.CallExpr:
		fnIdx, ok := c.funcIndex[x.Name]
		if !ok {
			if _, isInline := c.inlineFuncs[x.Name]; isInline {
				return logging.NewCompileError(
					"record-parameter function \""+x.Name+"\" must be called as a statement, not an expression",
					x.Pos.Line, x.Pos.Column)
			}
			return logging.NewCompileError("undefined function \""+x.Name+"\"", x.Pos.Line, x.Pos.Column)
		}
		for _, a := range x.Args {
			if err := c.compileExpr(a, sc); err != nil {
				return err
			}
		}
		c.emit(OpCall, fnIdx, int32(len(x.Args)))
		return nil

	default:
		return logging.NewCompileError("unsupported expression", 0, 0)
	}
}

func (c *Compiler) compileBinary(x *ast.BinaryExpr, sc *scope) error {
	switch x.Op {
	case "&&":
		return c.compileShortCircuit(x, sc, OpJumpIfFalse, false)
	case "||":
		return c.compileShortCircuit(x, sc, OpJumpIfTrue, true)
	}
	if err := c.compileExpr(x.X, sc); err != nil {
		return err
	}
	if err := c.compileExpr(x.Y, sc); err != nil {
		return err
	}
	op, ok := binaryOpcodes[x.Op]
	if !ok {
		return logging.NewCompileError("unsupported operator "+x.Op, x.Pos.Line, x.Pos.Column)
	}
	c.emit(op, 0, 0)
	return nil
}

var binaryOpcodes = map[string]Opcode{
	"+": OpAdd, "-": OpSub, "*": OpMul, "/": OpDiv, "%": OpMod,
	"==": OpEq, "!=": OpNe, "<": OpLt, "<=": OpLe, ">": OpGt, ">=": OpGe,
}

// compileShortCircuit lowers && (shortcutResult=false, via JumpIfFalse)
// and || (shortcutResult=true, via JumpIfTrue) to the jump pattern
// mandated by spec §4.3, always leaving a normalized Bool on the stack.
func (c *Compiler) compileShortCircuit(x *ast.BinaryExpr, sc *scope, shortOp Opcode, shortcutResult bool) error {
	if err := c.compileExpr(x.X, sc); err != nil {
		return err
	}
	shortIdx1 := c.emit(shortOp, 0, 0)
	if err := c.compileExpr(x.Y, sc); err != nil {
		return err
	}
	shortIdx2 := c.emit(shortOp, 0, 0)
	c.emit(OpLoadConst, c.prog.constIndex(value.FromBool(!shortcutResult)), 0)
	endJump := c.emit(OpJump, 0, 0)
	c.patchTarget(shortIdx1)
	c.patchTarget(shortIdx2)
	c.emit(OpLoadConst, c.prog.constIndex(value.FromBool(shortcutResult)), 0)
	c.patchTarget(endJump)
	return nil
}

func recordFor(base string, sc *scope) (RecordID, bool) {
	switch base {
	case "txn":
		return RecTxn, true
	case "profile":
		return RecProfile, true
	}
	if sc != nil {
		if rec, ok := sc.recordAliases[base]; ok {
			return rec, true
		}
	}
	return 0, false
}

// compileInlineCall expands a call to a record-parameter function directly
// into the caller's instruction stream: fresh stack slots are allocated
// (continuing the caller's own numbering, and folded back into it once the
// body is compiled) for its value parameters, and its record parameters are
// resolved to whichever of txn/profile the caller passed, so the body's
// `p.field` reads compile down to an ordinary LoadField/StoreField with a
// static RecordID. Grounded on spec §4.3's requirement that field access
// resolve to txn/profile lexically at compile time; supplements the DSL to
// let a function express that binding through its own parameter names
// (see DESIGN.md's "Open Question decisions" #3).
func (c *Compiler) compileInlineCall(fn *ast.FunctionDecl, call *ast.CallExpr, callerSc *scope) error {
	if len(call.Args) != len(fn.Params) {
		return logging.NewCompileError(
			fn.Name+" expects "+strconv.Itoa(len(fn.Params))+" argument(s), got "+strconv.Itoa(len(call.Args)),
			call.Pos.Line, call.Pos.Column)
	}
	if containsReturn(fn.Body) {
		return logging.NewCompileError(
			"record-parameter function \""+fn.Name+"\" may not contain a return statement", call.Pos.Line, call.Pos.Column)
	}
	if c.inlining[fn.Name] {
		return logging.NewCompileError(
			"record-parameter function \""+fn.Name+"\" may not be called recursively", call.Pos.Line, call.Pos.Column)
	}
	if c.inlining == nil {
		c.inlining = map[string]bool{}
	}
	c.inlining[fn.Name] = true
	defer delete(c.inlining, fn.Name)

	recParams := recordParamsOf(fn)
	inner := &scope{slots: map[string]int32{}, next: callerSc.next, inRule: callerSc.inRule, recordAliases: map[string]RecordID{}}

	for i, param := range fn.Params {
		if recParams[param] {
			arg, ok := call.Args[i].(*ast.IdentExpr)
			if !ok {
				return logging.NewCompileError(
					"record parameter \""+param+"\" of \""+fn.Name+"\" requires a bare txn or profile argument",
					call.Pos.Line, call.Pos.Column)
			}
			rec, ok := recordFor(arg.Name, callerSc)
			if !ok {
				return logging.NewCompileError(
					"record parameter \""+param+"\" of \""+fn.Name+"\" requires a bare txn or profile argument",
					call.Pos.Line, call.Pos.Column)
			}
			inner.recordAliases[param] = rec
			continue
		}
		if err := c.compileExpr(call.Args[i], callerSc); err != nil {
			return err
		}
		c.emit(OpStoreLocal, inner.slotFor(param), 0)
	}

	for _, stmt := range fn.Body {
		if err := c.compileStmt(stmt, inner); err != nil {
			return err
		}
	}

	if inner.next > callerSc.next {
		callerSc.next = inner.next
	}
	return nil
}

// recordParamsOf reports which of fn's parameters are ever used as the
// base of a field access in its body, i.e. which ones are record-typed.
func recordParamsOf(fn *ast.FunctionDecl) map[string]bool {
	out := map[string]bool{}
	for _, p := range fn.Params {
		if paramUsedAsRecordBase(fn.Body, p) {
			out[p] = true
		}
	}
	return out
}

func paramUsedAsRecordBase(body []ast.Stmt, param string) bool {
	found := false
	var walkExpr func(e ast.Expr)
	var walkStmt func(s ast.Stmt)
	walkExpr = func(e ast.Expr) {
		if found || e == nil {
			return
		}
		switch x := e.(type) {
		case *ast.FieldExpr:
			if x.Base == param {
				found = true
			}
		case *ast.BinaryExpr:
			walkExpr(x.X)
			walkExpr(x.Y)
		case *ast.UnaryExpr:
			walkExpr(x.X)
		case *ast.CallExpr:
			for _, a := range x.Args {
				walkExpr(a)
			}
		}
	}
	walkStmt = func(s ast.Stmt) {
		if found || s == nil {
			return
		}
		switch st := s.(type) {
		case *ast.LetStmt:
			walkExpr(st.Value)
		case *ast.AssignStmt:
			if st.Base == param {
				found = true
				return
			}
			walkExpr(st.Value)
		case *ast.IfStmt:
			walkExpr(st.Cond)
			for _, s2 := range st.Then {
				walkStmt(s2)
			}
			for _, s2 := range st.ElseBlock {
				walkStmt(s2)
			}
			if st.ElseIf != nil {
				walkStmt(st.ElseIf)
			}
		case *ast.ReturnStmt:
			walkExpr(st.Value)
		case *ast.ExprStmt:
			walkExpr(st.Expr)
		}
	}
	for _, s := range body {
		walkStmt(s)
		if found {
			break
		}
	}
	return found
}

// containsReturn reports whether body contains a return statement anywhere,
// including nested if/else-if branches.
func containsReturn(body []ast.Stmt) bool {
	for _, s := range body {
		switch st := s.(type) {
		case *ast.ReturnStmt:
			return true
		case *ast.IfStmt:
			if containsReturn(st.Then) || containsReturn(st.ElseBlock) {
				return true
			}
			if st.ElseIf != nil && containsReturn([]ast.Stmt{st.ElseIf}) {
				return true
			}
		}
	}
	return false
}
