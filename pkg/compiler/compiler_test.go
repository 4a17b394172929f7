package compiler

import (
	"testing"

	"github.com/fraudscore/rex/pkg/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, src string) *Program {
	t.Helper()
	prog, err := parser.Parse(src)
	require.NoError(t, err)
	bc, err := Compile(prog)
	require.NoError(t, err)
	return bc
}

func TestCompileHighAmountRule(t *testing.T) {
	bc := mustCompile(t, `
		rule "r" {
			priority: 100,
			if (txn.amount > 1000) {
				setFraudScore(0.8);
			}
		}
	`)
	require.Len(t, bc.Rules, 1)
	assert.Equal(t, "r", bc.Rules[0].Name)
	assert.Equal(t, int32(100), bc.Rules[0].Priority)
	assert.True(t, bc.Rules[0].Enabled)

	var sawEmit bool
	for _, ins := range bc.Instructions {
		if ins.Op == OpEmitSetFraudScore {
			sawEmit = true
		}
	}
	assert.True(t, sawEmit)
}

func TestCompilePrioritySortIsStableDescending(t *testing.T) {
	bc := mustCompile(t, `
		rule "low_a" { priority: 10, if (true) {} }
		rule "high" { priority: 100, if (true) {} }
		rule "low_b" { priority: 10, if (true) {} }
	`)
	require.Len(t, bc.Rules, 3)
	assert.Equal(t, []string{"high", "low_a", "low_b"}, []string{bc.Rules[0].Name, bc.Rules[1].Name, bc.Rules[2].Name})
}

func TestCompileDuplicateRuleNameIsCompileError(t *testing.T) {
	_, err := parser.Parse(`
		rule "dup" { priority: 1, if (true) {} }
		rule "dup" { priority: 2, if (true) {} }
	`)
	assert.Error(t, err)
}

func TestCompileUndefinedFunctionCallIsCompileError(t *testing.T) {
	prog, err := parser.Parse(`
		rule "r" {
			priority: 1,
			if (true) {
				let x = missingFn(1);
			}
		}
	`)
	require.NoError(t, err)
	_, err = Compile(prog)
	assert.Error(t, err)
}

func TestCompileBuiltinArityMismatchIsCompileError(t *testing.T) {
	prog, err := parser.Parse(`
		rule "r" {
			priority: 1,
			if (true) {
				setFraudScore(0.5, "extra");
			}
		}
	`)
	require.NoError(t, err)
	_, err = Compile(prog)
	assert.Error(t, err)
}

func TestCompileUnknownRecordAssignIsCompileError(t *testing.T) {
	prog, err := parser.Parse(`
		rule "r" {
			priority: 1,
			if (true) {
				other.field = 1;
			}
		}
	`)
	require.NoError(t, err)
	_, err = Compile(prog)
	assert.Error(t, err)
}

// TestCompileRecordParamFunctionInlinesAtCallSite covers spec §8 scenario
// S5's shape: a function whose parameters are used as field bases has no
// standalone callable body (the bytecode format carries no runtime record
// reference), so it inlines directly into the rule and resolves its
// parameters to the caller's txn/profile arguments.
func TestCompileRecordParamFunctionInlinesAtCallSite(t *testing.T) {
	bc := mustCompile(t, `
		function bump(p, t) {
			p.n = p.n + t.amount;
		}
		rule "r" {
			priority: 1,
			if (true) {
				bump(profile, txn);
			}
		}
	`)
	assert.Empty(t, bc.Functions)

	var sawLoadProfile, sawStoreProfile, sawLoadTxn bool
	for _, ins := range bc.Instructions {
		switch ins.Op {
		case OpLoadField:
			if RecordID(ins.A) == RecProfile {
				sawLoadProfile = true
			}
			if RecordID(ins.A) == RecTxn {
				sawLoadTxn = true
			}
		case OpStoreField:
			if RecordID(ins.A) == RecProfile {
				sawStoreProfile = true
			}
		}
	}
	assert.True(t, sawLoadProfile)
	assert.True(t, sawStoreProfile)
	assert.True(t, sawLoadTxn)
}

// TestCompileOrdinaryFunctionCallStatementDiscardsReturn covers a function
// with only value parameters, which does get a standalone callable body.
func TestCompileOrdinaryFunctionCallStatementDiscardsReturn(t *testing.T) {
	bc := mustCompile(t, `
		function addTax(amount, rate) {
			return amount + amount * rate;
		}
		rule "r" {
			priority: 1,
			if (true) {
				addTax(10, 2);
			}
		}
	`)
	require.Len(t, bc.Functions, 1)
	assert.Equal(t, "addTax", bc.Functions[0].Name)
	assert.Equal(t, int32(2), bc.Functions[0].LocalCount)

	var sawCall, sawPop bool
	for i, ins := range bc.Instructions {
		if ins.Op == OpCall {
			sawCall = true
			if i+1 < len(bc.Instructions) && bc.Instructions[i+1].Op == OpPop {
				sawPop = true
			}
		}
	}
	assert.True(t, sawCall)
	assert.True(t, sawPop)
}

// TestCompileRuleWithLetStatementUsesLocalSlot ensures a bare `let` in a
// rule body (which has no OpCall reserving its frame) lowers to a
// StoreLocal/LoadLocal pair; the VM reserves the slot itself when it
// starts the rule.
func TestCompileRuleWithLetStatementUsesLocalSlot(t *testing.T) {
	bc := mustCompile(t, `
		rule "r" {
			priority: 1,
			if (true) {
				let x = txn.amount + 1;
				profile.total = x;
			}
		}
	`)
	var sawStoreLocal, sawLoadLocal bool
	for _, ins := range bc.Instructions {
		if ins.Op == OpStoreLocal {
			sawStoreLocal = true
		}
		if ins.Op == OpLoadLocal {
			sawLoadLocal = true
		}
	}
	assert.True(t, sawStoreLocal)
	assert.True(t, sawLoadLocal)
}

func TestCompileStringConstantsAreDeduplicated(t *testing.T) {
	bc := mustCompile(t, `
		rule "r" {
			priority: 1,
			if (true) {
				createComment("dup");
			} else {
				createComment("dup");
			}
		}
	`)
	count := 0
	for _, c := range bc.Constants {
		if c.Kind().String() == "Str" && c.AsStr() == "dup" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestCompileLogicalAndOrShortCircuitLowering(t *testing.T) {
	bc := mustCompile(t, `
		rule "r" {
			priority: 1,
			if (txn.a > 0 && txn.b > 0) {
				setFraudScore(1.0);
			}
			if (txn.a > 0 || txn.b > 0) {
				setFraudScore(0.5);
			}
		}
	`)
	var sawJIF, sawJIT bool
	for _, ins := range bc.Instructions {
		if ins.Op == OpJumpIfFalse {
			sawJIF = true
		}
		if ins.Op == OpJumpIfTrue {
			sawJIT = true
		}
	}
	assert.True(t, sawJIF)
	assert.True(t, sawJIT)
}
