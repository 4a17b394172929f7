// tools/rulegen/main_test.go

package main

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudscore/rex/pkg/parser"
)

func TestGenerateRuleProducesParseableDSL(t *testing.T) {
	rand.Seed(1)
	src := generateRule(1)

	assert.Contains(t, src, `rule "generated_rule_1"`)
	assert.Contains(t, src, "priority:")

	_, err := parser.Parse(src)
	require.NoError(t, err)
}

func TestGenerateConditionNeverEmpty(t *testing.T) {
	rand.Seed(42)
	for i := 0; i < 20; i++ {
		cond := generateCondition(0)
		assert.NotEmpty(t, strings.TrimSpace(cond))
	}
}

func TestGeneratedRulesetAllParse(t *testing.T) {
	rand.Seed(7)
	var b strings.Builder
	for i := 1; i <= 25; i++ {
		b.WriteString(generateRule(i))
		b.WriteString("\n")
	}

	_, err := parser.Parse(b.String())
	require.NoError(t, err)
}
