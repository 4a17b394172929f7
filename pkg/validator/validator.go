// Package validator performs the structural validation spec §4.5 and §6
// require of a decoded bytecode container before an Engine will accept
// it: every index and jump target must be in range, and Call/EmitCustom
// argument counts must not be negative. The arity of the fixed-argument
// emit-action opcodes is not checked here.
package validator

import (
	"fmt"

	"github.com/fraudscore/rex/pkg/compiler"
	"github.com/fraudscore/rex/pkg/logging"
)

// Validate checks prog's cross-referential invariants: constant-pool and
// function-table indices are in range, every Jump/JumpIfFalse/JumpIfTrue
// target lies within code_len, and Call's function index is valid.
// Emit-action arity is enforced at compile time (the container format
// carries no explicit arity field for these zero/one-operand opcodes), so
// this only re-checks Call/EmitCustom's declared argc against a sane
// non-negative bound.
func Validate(prog *compiler.Program) error {
	codeLen := int32(len(prog.Instructions))

	for i, fn := range prog.Functions {
		if fn.EntryIP < 0 || fn.EntryIP >= codeLen {
			return decodeErrf("function %q (%d): entry_ip %d out of range", fn.Name, i, fn.EntryIP)
		}
		if fn.LocalCount < int32(len(fn.ParamNames)) {
			return decodeErrf("function %q: local_count %d smaller than param count %d", fn.Name, fn.LocalCount, len(fn.ParamNames))
		}
	}

	for i, r := range prog.Rules {
		if r.EntryIP < 0 || r.EntryIP >= codeLen {
			return decodeErrf("rule %q (%d): entry_ip %d out of range", r.Name, i, r.EntryIP)
		}
		if r.EndIP < r.EntryIP || r.EndIP > codeLen {
			return decodeErrf("rule %q (%d): end_ip %d out of range", r.Name, i, r.EndIP)
		}
	}

	for ip, ins := range prog.Instructions {
		switch ins.Op {
		case compiler.OpLoadConst:
			if ins.A < 0 || int(ins.A) >= len(prog.Constants) {
				return decodeErrf("instruction %d: LoadConst index %d out of range", ip, ins.A)
			}
		case compiler.OpLoadField, compiler.OpStoreField:
			if ins.A != int32(compiler.RecTxn) && ins.A != int32(compiler.RecProfile) {
				return decodeErrf("instruction %d: invalid record id %d", ip, ins.A)
			}
			if ins.B < 0 || int(ins.B) >= len(prog.Constants) {
				return decodeErrf("instruction %d: field name constant index %d out of range", ip, ins.B)
			}
		case compiler.OpEmitCustom:
			if ins.A < 0 || int(ins.A) >= len(prog.Constants) {
				return decodeErrf("instruction %d: EmitCustom name index %d out of range", ip, ins.A)
			}
			if ins.B < 0 {
				return decodeErrf("instruction %d: EmitCustom negative argc", ip)
			}
		case compiler.OpJump, compiler.OpJumpIfFalse, compiler.OpJumpIfTrue:
			if ins.A < 0 || ins.A >= codeLen {
				return decodeErrf("instruction %d: jump target %d out of range", ip, ins.A)
			}
		case compiler.OpCall:
			if ins.A < 0 || int(ins.A) >= len(prog.Functions) {
				return decodeErrf("instruction %d: Call function index %d out of range", ip, ins.A)
			}
			if ins.B < 0 {
				return decodeErrf("instruction %d: Call negative argc", ip)
			}
		}
	}
	return nil
}

func decodeErrf(format string, args ...interface{}) error {
	return logging.NewDecodeError(fmt.Sprintf(format, args...), nil)
}
