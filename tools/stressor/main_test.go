// tools/stressor/main_test.go

package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fraudscore/rex/pkg/runtime"
)

func TestSynthesizeProducesCompilableRule(t *testing.T) {
	src := synthesize(3)
	eng, err := runtime.FromDSL(src)
	require.NoError(t, err)
	require.Len(t, eng.RulesMetadata(), 1)
}

func TestSynthesizeVariesAcrossIterations(t *testing.T) {
	a := synthesize(1)
	b := synthesize(2)
	require.NotEqual(t, a, b)
}
