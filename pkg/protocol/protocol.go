package protocol

import (
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"

	"nexumdb/pkg/errors"
)

// Frame: [magic 1B][op 1B][key len 2B][value len 4B][key][value], big endian.
const (
	MagicNumber = 0x4E
	HeaderSize  = 8

	// MaxValueSize bounds a single frame payload.
	MaxValueSize = 64 << 20

	OpQuery = 0x01 // value: SQL text
	OpStats = 0x02
	OpPing  = 0x03

	RespOK  = 0x00
	RespErr = 0xFF
	RespVal = 0x01 // value: JSON body
)

var ErrInvalidMagic = stderrors.New("invalid magic number")

type Packet struct {
	Op    byte
	Key   []byte
	Value []byte
}

func Encode(w io.Writer, op byte, key []byte, value []byte) error {
	if len(key) > 0xFFFF {
		return fmt.Errorf("key of %d bytes exceeds frame limit", len(key))
	}
	if len(value) > MaxValueSize {
		return fmt.Errorf("value of %d bytes exceeds frame limit", len(value))
	}

	frame := make([]byte, HeaderSize, HeaderSize+len(key)+len(value))
	frame[0] = MagicNumber
	frame[1] = op
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(key)))
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(value)))
	frame = append(frame, key...)
	frame = append(frame, value...)

	_, err := w.Write(frame)
	return err
}

func Decode(r io.Reader) (*Packet, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	if header[0] != MagicNumber {
		return nil, ErrInvalidMagic
	}

	op := header[1]
	kLen := binary.BigEndian.Uint16(header[2:4])
	vLen := binary.BigEndian.Uint32(header[4:8])
	if vLen > MaxValueSize {
		return nil, fmt.Errorf("frame value of %d bytes exceeds limit", vLen)
	}

	key := make([]byte, kLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}

	val := make([]byte, vLen)
	if _, err := io.ReadFull(r, val); err != nil {
		return nil, err
	}

	return &Packet{Op: op, Key: key, Value: val}, nil
}

// ErrorBody is the JSON payload of a RespErr frame and of HTTP error
// responses.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Table     string `json:"table,omitempty"`
	Column    string `json:"column,omitempty"`
	Value     string `json:"value,omitempty"`
	Completed int    `json:"completed,omitempty"`
	Planned   int    `json:"planned,omitempty"`
}

// ErrorBodyOf describes err. Errors outside the taxonomy (parse errors,
// closed database) get the code "Error".
func ErrorBodyOf(err error) ErrorBody {
	if e, ok := errors.As(err); ok {
		return ErrorBody{
			Code:      e.Code.String(),
			Message:   e.Error(),
			Table:     e.Table,
			Column:    e.Column,
			Value:     e.Value,
			Completed: e.Completed,
			Planned:   e.Planned,
		}
	}
	return ErrorBody{Code: "Error", Message: err.Error()}
}

// Err turns a decoded body back into an error value.
func (b ErrorBody) Err() error {
	code, ok := errors.ParseCode(b.Code)
	if !ok {
		return stderrors.New(b.Message)
	}
	return &RemoteError{
		Err: &errors.Error{
			Code:      code,
			Message:   b.Message,
			Table:     b.Table,
			Column:    b.Column,
			Value:     b.Value,
			Completed: b.Completed,
			Planned:   b.Planned,
		},
	}
}

// RemoteError is an execution error reported by a server. Its message is
// already fully rendered, so it is not prefixed again.
type RemoteError struct {
	Err *errors.Error
}

func (e *RemoteError) Error() string { return e.Err.Message }

func (e *RemoteError) Unwrap() error { return e.Err }
