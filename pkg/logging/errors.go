package logging

import (
	"fmt"

	"github.com/rs/zerolog"
)

// ErrorKind identifies which stage of the pipeline raised an EngineError,
// per spec §7's error taxonomy.
type ErrorKind string

const (
	KindLexical    ErrorKind = "LEXICAL"
	KindParse      ErrorKind = "PARSE"
	KindCompile    ErrorKind = "COMPILE"
	KindDecode     ErrorKind = "DECODE"
	KindType       ErrorKind = "TYPE"
	KindArithmetic ErrorKind = "ARITHMETIC"
	KindValidation ErrorKind = "VALIDATION"
	KindStackOverflow ErrorKind = "STACK_OVERFLOW"
)

// EngineError is the single error type carrying every taxonomy entry from
// spec §7. Position fields are zero when not applicable (e.g. runtime
// errors set Rule/IP instead of Line/Column).
type EngineError struct {
	Kind    ErrorKind
	Message string
	Line    int
	Column  int
	Rule    string
	IP      int
	Err     error
}

func (e *EngineError) Error() string {
	switch {
	case e.Rule != "":
		return fmt.Sprintf("%s: %s (rule %q, ip %d)", e.Kind, e.Message, e.Rule, e.IP)
	case e.Line != 0 || e.Column != 0:
		return fmt.Sprintf("%s: %s (line %d, col %d)", e.Kind, e.Message, e.Line, e.Column)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *EngineError) Unwrap() error { return e.Err }

// NewLexError builds a LexicalError positioned at (line, col).
func NewLexError(message string, line, col int) *EngineError {
	return &EngineError{Kind: KindLexical, Message: message, Line: line, Column: col}
}

// NewParseError builds a ParseError positioned at (line, col).
func NewParseError(message string, line, col int) *EngineError {
	return &EngineError{Kind: KindParse, Message: message, Line: line, Column: col}
}

// NewCompileError builds a CompileError; compile errors are not always tied
// to a single source position (e.g. an unsupported statement is reported
// at 0, 0).
func NewCompileError(message string, line, col int) *EngineError {
	return &EngineError{Kind: KindCompile, Message: message, Line: line, Column: col}
}

// NewDecodeError builds a DecodeError for a malformed bytecode container.
func NewDecodeError(message string, cause error) *EngineError {
	return &EngineError{Kind: KindDecode, Message: message, Err: cause}
}

// NewRuntimeError builds a runtime-stage error (Type/Arithmetic/Validation/
// StackOverflow) annotated with the failing rule and instruction pointer,
// per §7's "abort only the currently executing rule" policy.
func NewRuntimeError(kind ErrorKind, message, rule string, ip int) *EngineError {
	return &EngineError{Kind: kind, Message: message, Rule: rule, IP: ip}
}

// LogError logs err with structured fields when it is an *EngineError,
// falling back to a plain error log otherwise.
func LogError(logger zerolog.Logger, err error) {
	engErr, ok := err.(*EngineError)
	if !ok {
		logger.Error().Err(err).Msg(err.Error())
		return
	}

	event := logger.Error().Err(engErr.Err).Str("kind", string(engErr.Kind))
	if engErr.Rule != "" {
		event = event.Str("rule", engErr.Rule).Int("ip", engErr.IP)
	}
	if engErr.Line != 0 {
		event = event.Int("line", engErr.Line).Int("column", engErr.Column)
	}
	event.Msg(engErr.Message)
}
