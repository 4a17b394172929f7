package runtime

import (
	"testing"

	"github.com/fraudscore/rex/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestS1HighAmount grounds spec §8 scenario S1.
func TestS1HighAmount(t *testing.T) {
	src := `rule "r" { priority: 100, if (txn.amount > 1000) { setFraudScore(0.8); } }`
	eng, err := FromDSL(src)
	require.NoError(t, err)

	txn := NewRecord().WithField("amount", value.FromFloat(5000.0))
	profile := NewRecord()

	res := eng.Execute(txn, profile)

	require.Len(t, res.Actions, 1)
	assert.Equal(t, ActionSetFraudScore, res.Actions[0].Kind)
	assert.InDelta(t, 0.8, res.Actions[0].Score, 1e-9)
	assert.Equal(t, []string{"r"}, res.Metadata.ExecutedRules)
	assert.False(t, res.Metadata.ShortCircuited)
}

// TestS2AmountBelowThreshold grounds spec §8 scenario S2.
func TestS2AmountBelowThreshold(t *testing.T) {
	src := `rule "r" { priority: 100, if (txn.amount > 1000) { setFraudScore(0.8); } }`
	eng, err := FromDSL(src)
	require.NoError(t, err)

	txn := NewRecord().WithField("amount", value.FromFloat(500.0))
	profile := NewRecord()

	res := eng.Execute(txn, profile)

	assert.Empty(t, res.Actions)
	assert.Equal(t, []string{"r"}, res.Metadata.ExecutedRules)
}

// TestS3ProfileMutation grounds spec §8 scenario S3.
func TestS3ProfileMutation(t *testing.T) {
	src := `rule "r" { priority: 10, if (true) { profile.count = profile.count + 1; } }`
	eng, err := FromDSL(src)
	require.NoError(t, err)

	txn := NewRecord()
	profile := NewRecord().WithField("count", value.FromInt(2))

	res := eng.Execute(txn, profile)

	assert.Equal(t, int64(3), res.Profile.Get("count").AsInt())
}

// TestS4ShortCircuit grounds spec §8 scenario S4: a top-level return inside
// a rule halts the whole engine, so a lower-priority rule is never reached.
func TestS4ShortCircuit(t *testing.T) {
	src := `
		rule "high" { priority: 100, if (true) { setFraudScore(1.0); return; } }
		rule "low" { priority: 50, if (true) { setFraudScore(0.1); } }
	`
	eng, err := FromDSL(src)
	require.NoError(t, err)

	res := eng.Execute(NewRecord(), NewRecord())

	assert.Equal(t, []string{"high"}, res.Metadata.ExecutedRules)
	assert.True(t, res.Metadata.ShortCircuited)
	require.Len(t, res.Actions, 1)
	assert.InDelta(t, 1.0, res.Actions[0].Score, 1e-9)
}

// TestS5FunctionCallAndLocal grounds spec §8 scenario S5.
func TestS5FunctionCallAndLocal(t *testing.T) {
	src := `
		function bump(p, t) { p.n = p.n + t.amount; }
		rule "r" { priority: 1, if (true) { bump(profile, txn); } }
	`
	eng, err := FromDSL(src)
	require.NoError(t, err)

	txn := NewRecord().WithField("amount", value.FromInt(7))
	profile := NewRecord().WithField("n", value.FromInt(0))

	res := eng.Execute(txn, profile)

	assert.Equal(t, int64(7), res.Profile.Get("n").AsInt())
}

// TestS6DecisionValidation grounds spec §8 scenario S6: an invalid decision
// value is a ValidationError that aborts only the offending rule.
func TestS6DecisionValidation(t *testing.T) {
	src := `
		rule "bad" { priority: 100, if (true) { setDecision("MAYBE"); } }
		rule "good" { priority: 50, if (true) { setFraudScore(0.5); } }
	`
	eng, err := FromDSL(src)
	require.NoError(t, err)

	res := eng.Execute(NewRecord(), NewRecord())

	require.Contains(t, res.Metadata.RuleErrors, "bad")
	assert.Equal(t, []string{"bad", "good"}, res.Metadata.ExecutedRules)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, ActionSetFraudScore, res.Actions[0].Kind)
}

// TestPriorityDescendingOrder exercises the "priority order" quantified
// property of spec §8: rules run highest priority first.
func TestPriorityDescendingOrder(t *testing.T) {
	src := `
		rule "low" { priority: 1, if (true) { createComment("low"); } }
		rule "high" { priority: 100, if (true) { createComment("high"); } }
		rule "mid" { priority: 50, if (true) { createComment("mid"); } }
	`
	eng, err := FromDSL(src)
	require.NoError(t, err)

	names := make([]string, 0, 3)
	for _, m := range eng.RulesMetadata() {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"high", "mid", "low"}, names)
}

// TestDisabledRuleIsSkipped exercises the "skipped_rules" bookkeeping.
func TestDisabledRuleIsSkipped(t *testing.T) {
	src := `rule "r" { priority: 1, enabled: false, if (true) { setFraudScore(1.0); } }`
	eng, err := FromDSL(src)
	require.NoError(t, err)

	res := eng.Execute(NewRecord(), NewRecord())

	assert.Empty(t, res.Metadata.ExecutedRules)
	assert.Equal(t, []string{"r"}, res.Metadata.SkippedRules)
	assert.Empty(t, res.Actions)
}

// TestToBytecodeFromBytecodeRoundTrip exercises the round-trip quantified
// property of spec §8.
func TestToBytecodeFromBytecodeRoundTrip(t *testing.T) {
	src := `rule "r" { priority: 100, if (txn.amount > 1000) { setFraudScore(0.8); } }`
	eng, err := FromDSL(src)
	require.NoError(t, err)

	data, err := eng.ToBytecode()
	require.NoError(t, err)

	restored, err := FromBytecode(data)
	require.NoError(t, err)

	res := restored.Execute(NewRecord().WithField("amount", value.FromFloat(2000.0)), NewRecord())
	require.Len(t, res.Actions, 1)
	assert.Equal(t, ActionSetFraudScore, res.Actions[0].Kind)
}

// TestValidateDSLRejectsUndefinedFunction: an undefined call name used in
// expression context (as opposed to a bare statement, which falls back to
// a Custom action) is a CompileError.
func TestValidateDSLRejectsUndefinedFunction(t *testing.T) {
	src := `rule "r" { priority: 1, if (ghost() > 1) { setFraudScore(1.0); } }`
	assert.Error(t, ValidateDSL(src))
}

// TestUnresolvedStatementCallEmitsCustomAction: a bare statement call that
// matches neither a declared function nor a built-in action name falls back
// to Action::Custom, grounded on the original's statement-level Custom
// fallback.
func TestUnresolvedStatementCallEmitsCustomAction(t *testing.T) {
	src := `rule "r" { priority: 1, if (true) { notifyOps("ops-team", 5); } }`
	eng, err := FromDSL(src)
	require.NoError(t, err)

	res := eng.Execute(NewRecord(), NewRecord())

	require.Len(t, res.Actions, 1)
	assert.Equal(t, ActionCustom, res.Actions[0].Kind)
	assert.Equal(t, "notifyOps", res.Actions[0].Name)
	require.Len(t, res.Actions[0].Args, 2)
	assert.Equal(t, "ops-team", res.Actions[0].Args[0].AsStr())
	assert.Equal(t, int64(5), res.Actions[0].Args[1].AsInt())
}
