package compiler

import "github.com/fraudscore/rex/pkg/value"

// FunctionDef describes one compiled user function's entry in the
// function table, per spec §3's BytecodeProgram.
type FunctionDef struct {
	Name       string
	ParamNames []string
	EntryIP    int32
	LocalCount int32
}

// RuleDef describes one compiled rule's entry in the rule table.
type RuleDef struct {
	Name     string
	Priority int32
	Enabled  bool
	EntryIP  int32
	EndIP    int32
}

// Program is the compiled, serializable output of the compiler: a
// constant pool, function table, rule table (kept in priority-sorted
// order, per spec §3's invariant), and a flat instruction vector.
type Program struct {
	Constants    []value.Value
	Functions    []FunctionDef
	Rules        []RuleDef
	Instructions []Instruction
}

// constIndex returns the pool index for v, appending and deduplicating
// string constants (spec §4.3: "identical string literals SHOULD be
// deduplicated"). Non-string literals are not deduplicated since equal
// numeric/bool constants are rare and cheap to duplicate.
func (p *Program) constIndex(v value.Value) int32 {
	if v.Kind() == value.Str {
		for i, c := range p.Constants {
			if c.Kind() == value.Str && c.AsStr() == v.AsStr() {
				return int32(i)
			}
		}
	}
	p.Constants = append(p.Constants, v)
	return int32(len(p.Constants) - 1)
}
