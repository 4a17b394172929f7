package compiler

import (
	"bytes"
	"testing"

	"github.com/fraudscore/rex/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadString(t *testing.T) {
	testCases := []struct {
		input    string
		expected []byte
	}{
		{"test", []byte{4, 0, 0, 0, 't', 'e', 's', 't'}},
		{"", []byte{0, 0, 0, 0}},
		{"hello world", []byte{11, 0, 0, 0, 'h', 'e', 'l', 'l', 'o', ' ', 'w', 'o', 'r', 'l', 'd'}},
	}

	for _, tc := range testCases {
		buf := new(bytes.Buffer)
		require.NoError(t, writeString(buf, tc.input))
		assert.Equal(t, tc.expected, buf.Bytes())
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	prog := &Program{
		Constants: []value.Value{value.FromInt(42), value.FromStr("hello"), value.FromFloat(1.5)},
		Functions: []FunctionDef{{Name: "bump", ParamNames: []string{"p", "t"}, EntryIP: 0, LocalCount: 2}},
		Rules:     []RuleDef{{Name: "r1", Priority: 100, Enabled: true, EntryIP: 4, EndIP: 10}},
		Instructions: []Instruction{
			{Op: OpBeginRule, A: 0},
			{Op: OpLoadConst, A: 0},
			{Op: OpEmitSetFraudScore},
			{Op: OpEndRule},
		},
	}

	data, err := Encode(prog)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, prog.Constants, decoded.Constants)
	assert.Equal(t, prog.Functions, decoded.Functions)
	assert.Equal(t, prog.Rules, decoded.Rules)
	assert.Equal(t, prog.Instructions, decoded.Instructions)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte("XXXX\x01\x00"))
	assert.Error(t, err)
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	buf := []byte("FRE1")
	buf = append(buf, 0x02, 0x00) // version 2
	_, err := Decode(buf)
	assert.Error(t, err)
}

func TestDecodeEmptyProgram(t *testing.T) {
	data, err := Encode(&Program{})
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Empty(t, decoded.Constants)
	assert.Empty(t, decoded.Functions)
	assert.Empty(t, decoded.Rules)
	assert.Empty(t, decoded.Instructions)
}
