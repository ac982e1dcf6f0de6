package protocol

import (
	"bytes"
	"encoding/binary"
	stderrors "errors"
	"io"
	"testing"

	"nexumdb/pkg/errors"
)

func TestEncodeDecode(t *testing.T) {
	buf := new(bytes.Buffer)
	val := []byte("SELECT * FROM users")

	if err := Encode(buf, OpQuery, nil, val); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.Len() != HeaderSize+len(val) {
		t.Fatalf("frame is %d bytes, want %d", buf.Len(), HeaderSize+len(val))
	}

	pkg, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if pkg.Op != OpQuery {
		t.Errorf("got op %v, want %v", pkg.Op, OpQuery)
	}
	if len(pkg.Key) != 0 {
		t.Errorf("key mismatch: got %v", pkg.Key)
	}
	if !bytes.Equal(pkg.Value, val) {
		t.Errorf("value mismatch: got %q", string(pkg.Value))
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	buf := bytes.NewReader([]byte{0x00, OpQuery, 0, 0, 0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o'})
	_, err := Decode(buf)
	if err != ErrInvalidMagic {
		t.Errorf("expected invalid magic error, got %v", err)
	}
}

func TestDecodeOversizedValue(t *testing.T) {
	header := []byte{MagicNumber, OpQuery, 0, 0, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(header[4:], MaxValueSize+1)
	if _, err := Decode(bytes.NewReader(header)); err == nil {
		t.Error("expected an error for an oversized frame")
	}
}

func TestRoundtripAllOps(t *testing.T) {
	ops := []byte{OpQuery, OpStats, OpPing, RespOK, RespVal, RespErr}
	key := []byte{0x01, 0x02}
	val := []byte(`{"kind":"selected"}`)

	for _, op := range ops {
		buf := new(bytes.Buffer)
		if err := Encode(buf, op, key, val); err != nil {
			t.Errorf("Encode op %v failed: %v", op, err)
			continue
		}
		pkg, err := Decode(buf)
		if err != nil {
			t.Errorf("Decode op %v failed: %v", op, err)
			continue
		}
		if pkg.Op != op || !bytes.Equal(pkg.Key, key) || !bytes.Equal(pkg.Value, val) {
			t.Errorf("op %v: got %+v", op, pkg)
		}
	}
}

func TestDecodeIncompleteFrames(t *testing.T) {
	if _, err := Decode(bytes.NewReader([]byte{0x4E, 0x01})); err != io.ErrUnexpectedEOF {
		t.Errorf("short header: got %v", err)
	}
	if _, err := Decode(bytes.NewReader(nil)); err != io.EOF {
		t.Errorf("empty stream: got %v", err)
	}
	truncated := []byte{MagicNumber, OpQuery, 0, 0, 0, 0, 0, 9, 'a'}
	if _, err := Decode(bytes.NewReader(truncated)); err != io.ErrUnexpectedEOF {
		t.Errorf("truncated value: got %v", err)
	}
}

func TestErrorBodyRoundTrip(t *testing.T) {
	src := errors.Storage("t", 2, 5, stderrors.New("disk full"), "delete from t")
	body := ErrorBodyOf(src)
	if body.Code != "StorageError" || body.Completed != 2 || body.Planned != 5 {
		t.Fatalf("unexpected body %+v", body)
	}

	err := body.Err()
	if !errors.IsCode(err, errors.StorageError) {
		t.Fatalf("decoded error lost its code: %v", err)
	}
	if err.Error() != src.Error() {
		t.Errorf("message = %q, want %q", err.Error(), src.Error())
	}
	e, _ := errors.As(err)
	if e.Completed != 2 || e.Planned != 5 || e.Table != "t" {
		t.Errorf("decoded error = %+v", e)
	}

	plain := ErrorBodyOf(stderrors.New("syntax error at 3"))
	if plain.Code != "Error" || plain.Err().Error() != "syntax error at 3" {
		t.Errorf("plain error body = %+v", plain)
	}
}
