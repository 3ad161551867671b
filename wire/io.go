package wire

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strconv"
)

// Reader is anything that yields decoded instructions.
type Reader interface {
	Read() (*Instruction, error)
}

// InstructionIO reads and writes instructions on a byte stream.
type InstructionIO struct {
	conn   io.ReadWriteCloser
	reader *bufio.Reader
	writer *bufio.Writer

	logger *slog.Logger
}

// NewInstructionIO wraps conn. When logger is non-nil every instruction is
// logged at debug level.
func NewInstructionIO(conn io.ReadWriteCloser, logger *slog.Logger) *InstructionIO {
	return &InstructionIO{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		logger: logger,
	}
}

func (rw *InstructionIO) Close() error {
	return rw.conn.Close()
}

// ReadRaw reads the bytes of the next complete instruction.
func (rw *InstructionIO) ReadRaw() ([]byte, error) {
	var buf bytes.Buffer
	for {
		head, err := rw.reader.ReadSlice('.')
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(string(head[:len(head)-1]))
		if err != nil || n < 0 || n > maxElementLength {
			return nil, ErrInstructionParseFailed
		}
		buf.Write(head)

		// value plus its terminator
		value := make([]byte, n+1)
		if _, err := io.ReadFull(rw.reader, value); err != nil {
			return nil, err
		}
		buf.Write(value)

		switch value[n] {
		case Delimiter:
			if rw.logger != nil {
				rw.logger.Debug("<-", "instruction", buf.String())
			}
			return buf.Bytes(), nil
		case Separator:
		default:
			return nil, ErrInstructionParseFailed
		}
	}
}

func (rw *InstructionIO) Read() (*Instruction, error) {
	raw, err := rw.ReadRaw()
	if err != nil {
		return nil, err
	}
	return ParseInstruction(raw)
}

// WriteRaw writes buf and flushes.
func (rw *InstructionIO) WriteRaw(buf []byte) (n int, err error) {
	n, err = rw.writer.Write(buf)
	if err != nil {
		return
	}
	if rw.logger != nil {
		rw.logger.Debug("->", "instruction", string(buf))
	}
	err = rw.writer.Flush()
	return
}

func (rw *InstructionIO) Write(ins *Instruction) (int, error) {
	return rw.WriteRaw([]byte(ins.String()))
}

func (rw *InstructionIO) Expect(opcode string) (*Instruction, error) {
	return Expect(rw, opcode)
}

// Expect reads one instruction and fails unless it carries opcode.
func Expect(r Reader, opcode string) (*Instruction, error) {
	instruction, err := r.Read()
	if err != nil {
		return nil, err
	}

	if opcode != instruction.Opcode {
		return instruction, fmt.Errorf(`expected "%s" instruction but instead received "%s"`, opcode, instruction.String())
	}
	return instruction, nil
}
