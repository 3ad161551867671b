// Package wire implements the length-prefixed instruction format spoken with
// an out-of-process engine.
//
// An instruction is a list of elements, each written as "<length>.<value>",
// joined by ',' and terminated by ';'. The first element is the opcode.
// Lengths count bytes, so values may contain any byte including the
// separators.
package wire

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
)

const (
	Delimiter = ';'
	Separator = ','
)

// maxElementLength bounds a single element so a corrupt length prefix cannot
// trigger a huge allocation.
const maxElementLength = 16 << 20

var ErrInstructionParseFailed = errors.New("instruction parse failed")

type Instruction struct {
	Opcode string
	Args   []string

	protocolForm string
}

func NewInstruction(opcode string, args ...string) *Instruction {
	return &Instruction{
		Opcode: opcode,
		Args:   args,
	}
}

// Arg returns the i-th argument, or "" when there is none.
func (ins *Instruction) Arg(i int) string {
	if i < 0 || i >= len(ins.Args) {
		return ""
	}
	return ins.Args[i]
}

// String returns the encoded form. The result is cached; do not modify the
// instruction after calling it.
func (ins *Instruction) String() string {
	if len(ins.protocolForm) > 0 {
		return ins.protocolForm
	}

	var sb strings.Builder
	writeElement(&sb, ins.Opcode)
	for _, value := range ins.Args {
		sb.WriteByte(Separator)
		writeElement(&sb, value)
	}
	sb.WriteByte(Delimiter)
	ins.protocolForm = sb.String()
	return ins.protocolForm
}

func writeElement(sb *strings.Builder, value string) {
	sb.WriteString(strconv.Itoa(len(value)))
	sb.WriteByte('.')
	sb.WriteString(value)
}

// ParseInstruction decodes exactly one instruction. An empty input is a
// "nop".
func ParseInstruction(raw []byte) (*Instruction, error) {
	if len(raw) == 0 {
		return NewInstruction("nop"), nil
	}

	var elements []string
	rest := raw
	for {
		dot := bytes.IndexByte(rest, '.')
		if dot <= 0 {
			return nil, ErrInstructionParseFailed
		}
		n, err := strconv.Atoi(string(rest[:dot]))
		if err != nil || n < 0 || n > maxElementLength {
			return nil, ErrInstructionParseFailed
		}
		end := dot + 1 + n
		if end >= len(rest) {
			return nil, ErrInstructionParseFailed
		}
		elements = append(elements, string(rest[dot+1:end]))

		switch rest[end] {
		case Delimiter:
			if end+1 != len(rest) {
				return nil, ErrInstructionParseFailed
			}
			return NewInstruction(elements[0], elements[1:]...), nil
		case Separator:
			rest = rest[end+1:]
		default:
			return nil, ErrInstructionParseFailed
		}
	}
}
