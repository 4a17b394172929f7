package compiler

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"

	"github.com/fraudscore/rex/pkg/logging"
	"github.com/fraudscore/rex/pkg/value"
)

// Container format constants, per spec §6.
const (
	magic          = "FRE1"
	formatVersion  = uint16(1)
	instructionLen = 9 // 1 opcode byte + two little-endian int32 operands
)

// writeString mirrors the teacher's length-prefixed UTF-8 string encoding
// (rex/pkg/compiler/bytecode.go's writeString): a u32 byte length followed
// by the raw bytes, no NUL terminator.
func writeString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := readFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeValue(buf *bytes.Buffer, v value.Value) error {
	switch v.Kind() {
	case value.Null:
		buf.WriteByte(0)
	case value.Bool:
		buf.WriteByte(1)
		if v.AsBool() {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case value.Int:
		buf.WriteByte(2)
		binary.Write(buf, binary.LittleEndian, v.AsInt())
	case value.Float:
		buf.WriteByte(3)
		binary.Write(buf, binary.LittleEndian, math.Float64bits(v.AsFloat()))
	case value.Str:
		buf.WriteByte(4)
		return writeString(buf, v.AsStr())
	default:
		return errors.New("container: unknown value kind")
	}
	return nil
}

func readValue(r *bytes.Reader) (value.Value, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return value.Nil, err
	}
	switch tag {
	case 0:
		return value.Nil, nil
	case 1:
		b, err := r.ReadByte()
		if err != nil {
			return value.Nil, err
		}
		return value.FromBool(b != 0), nil
	case 2:
		var i int64
		if err := binary.Read(r, binary.LittleEndian, &i); err != nil {
			return value.Nil, err
		}
		return value.FromInt(i), nil
	case 3:
		var bits uint64
		if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
			return value.Nil, err
		}
		return value.FromFloat(math.Float64frombits(bits)), nil
	case 4:
		s, err := readString(r)
		if err != nil {
			return value.Nil, err
		}
		return value.FromStr(s), nil
	default:
		return value.Nil, logging.NewDecodeError("unknown value tag", nil)
	}
}

// Encode serializes prog to the binary container format of spec §6:
// magic, version, then length-prefixed constant/function/rule tables and
// a flat, fixed-width instruction stream. Field order and widths are
// fixed, so two calls on an equal Program produce byte-identical output
// (the "deterministic serialization" requirement of spec §4.5).
func Encode(prog *Program) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteString(magic)
	binary.Write(buf, binary.LittleEndian, formatVersion)

	binary.Write(buf, binary.LittleEndian, uint32(len(prog.Constants)))
	for _, c := range prog.Constants {
		if err := writeValue(buf, c); err != nil {
			return nil, err
		}
	}

	binary.Write(buf, binary.LittleEndian, uint32(len(prog.Functions)))
	for _, fn := range prog.Functions {
		if err := writeString(buf, fn.Name); err != nil {
			return nil, err
		}
		binary.Write(buf, binary.LittleEndian, uint32(len(fn.ParamNames)))
		for _, p := range fn.ParamNames {
			if err := writeString(buf, p); err != nil {
				return nil, err
			}
		}
		binary.Write(buf, binary.LittleEndian, uint32(fn.EntryIP))
		binary.Write(buf, binary.LittleEndian, uint32(fn.LocalCount))
	}

	binary.Write(buf, binary.LittleEndian, uint32(len(prog.Rules)))
	for _, r := range prog.Rules {
		if err := writeString(buf, r.Name); err != nil {
			return nil, err
		}
		binary.Write(buf, binary.LittleEndian, r.Priority)
		enabled := byte(0)
		if r.Enabled {
			enabled = 1
		}
		buf.WriteByte(enabled)
		binary.Write(buf, binary.LittleEndian, uint32(r.EntryIP))
		binary.Write(buf, binary.LittleEndian, uint32(r.EndIP))
	}

	binary.Write(buf, binary.LittleEndian, uint32(len(prog.Instructions)*instructionLen))
	for _, ins := range prog.Instructions {
		buf.WriteByte(byte(ins.Op))
		binary.Write(buf, binary.LittleEndian, ins.A)
		binary.Write(buf, binary.LittleEndian, ins.B)
	}

	return buf.Bytes(), nil
}

// Decode parses the binary container format, rejecting bad magic,
// unsupported versions, and truncated/malformed sections. It does NOT
// perform cross-referential structural validation (jump targets within
// bounds, action arities, etc.) — that is pkg/validator's job, invoked
// by runtime.FromBytecode before an Engine is handed back.
func Decode(data []byte) (*Program, error) {
	r := bytes.NewReader(data)

	magicBuf := make([]byte, 4)
	if _, err := readFull(r, magicBuf); err != nil || string(magicBuf) != magic {
		return nil, logging.NewDecodeError("bad magic", err)
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, logging.NewDecodeError("truncated header", err)
	}
	if version != formatVersion {
		return nil, logging.NewDecodeError("unsupported bytecode version", nil)
	}

	prog := &Program{}

	var constCount uint32
	if err := binary.Read(r, binary.LittleEndian, &constCount); err != nil {
		return nil, logging.NewDecodeError("truncated constant count", err)
	}
	for i := uint32(0); i < constCount; i++ {
		v, err := readValue(r)
		if err != nil {
			return nil, logging.NewDecodeError("malformed constant", err)
		}
		prog.Constants = append(prog.Constants, v)
	}

	var fnCount uint32
	if err := binary.Read(r, binary.LittleEndian, &fnCount); err != nil {
		return nil, logging.NewDecodeError("truncated function count", err)
	}
	for i := uint32(0); i < fnCount; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, logging.NewDecodeError("malformed function name", err)
		}
		var paramCount uint32
		if err := binary.Read(r, binary.LittleEndian, &paramCount); err != nil {
			return nil, logging.NewDecodeError("truncated param count", err)
		}
		params := make([]string, paramCount)
		for j := range params {
			p, err := readString(r)
			if err != nil {
				return nil, logging.NewDecodeError("malformed param name", err)
			}
			params[j] = p
		}
		var entryIP, localCount uint32
		if err := binary.Read(r, binary.LittleEndian, &entryIP); err != nil {
			return nil, logging.NewDecodeError("truncated function entry_ip", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &localCount); err != nil {
			return nil, logging.NewDecodeError("truncated function local_count", err)
		}
		prog.Functions = append(prog.Functions, FunctionDef{
			Name: name, ParamNames: params, EntryIP: int32(entryIP), LocalCount: int32(localCount),
		})
	}

	var ruleCount uint32
	if err := binary.Read(r, binary.LittleEndian, &ruleCount); err != nil {
		return nil, logging.NewDecodeError("truncated rule count", err)
	}
	for i := uint32(0); i < ruleCount; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, logging.NewDecodeError("malformed rule name", err)
		}
		var priority int32
		if err := binary.Read(r, binary.LittleEndian, &priority); err != nil {
			return nil, logging.NewDecodeError("truncated rule priority", err)
		}
		enabledByte, err := r.ReadByte()
		if err != nil {
			return nil, logging.NewDecodeError("truncated rule enabled flag", err)
		}
		var entryIP, endIP uint32
		if err := binary.Read(r, binary.LittleEndian, &entryIP); err != nil {
			return nil, logging.NewDecodeError("truncated rule entry_ip", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &endIP); err != nil {
			return nil, logging.NewDecodeError("truncated rule end_ip", err)
		}
		prog.Rules = append(prog.Rules, RuleDef{
			Name: name, Priority: priority, Enabled: enabledByte != 0,
			EntryIP: int32(entryIP), EndIP: int32(endIP),
		})
	}

	var codeLen uint32
	if err := binary.Read(r, binary.LittleEndian, &codeLen); err != nil {
		return nil, logging.NewDecodeError("truncated code length", err)
	}
	if codeLen%instructionLen != 0 {
		return nil, logging.NewDecodeError("code length is not a multiple of the instruction width", nil)
	}
	count := codeLen / instructionLen
	for i := uint32(0); i < count; i++ {
		opByte, err := r.ReadByte()
		if err != nil {
			return nil, logging.NewDecodeError("truncated instruction stream", err)
		}
		var a, b int32
		if err := binary.Read(r, binary.LittleEndian, &a); err != nil {
			return nil, logging.NewDecodeError("truncated instruction operand", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &b); err != nil {
			return nil, logging.NewDecodeError("truncated instruction operand", err)
		}
		prog.Instructions = append(prog.Instructions, Instruction{Op: Opcode(opByte), A: a, B: b})
	}

	return prog, nil
}
