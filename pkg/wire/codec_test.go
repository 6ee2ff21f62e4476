package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/GZK1108/posnet/pkg/chaintypes"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tx := chaintypes.New("alice", "bob", 10, 1, chaintypes.Transfer)
	msg, err := Encode(Transaction, TransactionPayload{Tx: tx})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if msg.Type != Transaction {
		t.Fatalf("Type = %v, want Transaction", msg.Type)
	}

	var decoded TransactionPayload
	if err := Decode(msg, &decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Tx.Sender != "alice" || decoded.Tx.Amount != 10 {
		t.Fatalf("decoded payload mismatch: %+v", decoded.Tx)
	}
}

func TestWriteReadFrame(t *testing.T) {
	msg, err := Encode(Hello, HelloPayload{SenderID: "node-1"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, msg); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Type != Hello {
		t.Fatalf("Type = %v, want Hello", got.Type)
	}
	var hello HelloPayload
	if err := Decode(got, &hello); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if hello.SenderID != "node-1" {
		t.Fatalf("SenderID = %q, want node-1", hello.SenderID)
	}
}

func TestReadFrame_RejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF}) // length far beyond MaxFrameSize
	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("expected ReadFrame to reject an oversized length prefix")
	}
}

func TestReadFrame_BadJSONBodyReportsErrMalformedFrame(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("{not valid json")
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	buf.Write(header[:])
	buf.Write(body)

	_, err := ReadFrame(&buf)
	if err == nil {
		t.Fatal("expected ReadFrame to reject an undecodable body")
	}
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("err = %v, want it to wrap ErrMalformedFrame", err)
	}
}

func TestReadFrame_TruncatedConnectionIsNotMalformedFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00, 0x05}) // promises 5 bytes, delivers none

	_, err := ReadFrame(&buf)
	if err == nil {
		t.Fatal("expected ReadFrame to report a read failure")
	}
	if errors.Is(err, ErrMalformedFrame) {
		t.Fatal("a truncated read should not be reported as ErrMalformedFrame")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want an io.ReadFull failure", err)
	}
}

func TestWriteFrame_MultipleMessagesSequentialRead(t *testing.T) {
	var buf bytes.Buffer
	msg1, _ := Encode(Step, StepPayload{})
	msg2, _ := Encode(Bye, ByePayload{SenderID: "node-2"})
	WriteFrame(&buf, msg1)
	WriteFrame(&buf, msg2)

	got1, err := ReadFrame(&buf)
	if err != nil || got1.Type != Step {
		t.Fatalf("first frame = %+v, err %v", got1, err)
	}
	got2, err := ReadFrame(&buf)
	if err != nil || got2.Type != Bye {
		t.Fatalf("second frame = %+v, err %v", got2, err)
	}
}
