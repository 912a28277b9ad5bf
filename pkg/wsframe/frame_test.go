package wsframe

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTripUnmasked(t *testing.T) {
	f := NewTextFrame("hello world", true)
	encoded := f.Encode(false)

	got, n, ok := Decode(encoded, 0)
	if !ok {
		t.Fatal("Decode returned false")
	}
	if n != len(encoded) {
		t.Fatalf("bytesConsumed = %d, want %d", n, len(encoded))
	}
	if got.OpCode != OpText || !got.Final || string(got.Payload) != "hello world" {
		t.Fatalf("got %+v", got)
	}
}

func TestEncodeDecodeRoundTripMasked(t *testing.T) {
	f := NewBinaryFrame([]byte{1, 2, 3, 4, 5}, false)
	encoded := f.Encode(true)

	got, n, ok := Decode(encoded, 0)
	if !ok || n != len(encoded) {
		t.Fatalf("Decode failed: ok=%v n=%d", ok, n)
	}
	if got.OpCode != OpBinary || got.Final {
		t.Fatalf("got %+v", got)
	}
	if !bytes.Equal(got.Payload, []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("payload = %v", got.Payload)
	}
}

func TestMaskingKeyVariesPerFrame(t *testing.T) {
	f := NewTextFrame("same payload", true)
	a := f.Encode(true)
	b := f.Encode(true)
	// Masking key occupies bytes [2:6) after a 1-byte length octet (payload < 126).
	if bytes.Equal(a[2:6], b[2:6]) {
		t.Fatal("masking key did not vary between encodes (extremely unlikely unless RNG broken)")
	}
	// But once unmasked, both must decode to the same payload.
	da, _, _ := Decode(a, 0)
	db, _, _ := Decode(b, 0)
	if !bytes.Equal(da.Payload, db.Payload) {
		t.Fatalf("unmasked payloads differ: %q vs %q", da.Payload, db.Payload)
	}
}

func TestDecodeNeedsMoreDataReturnsFalseWithoutConsuming(t *testing.T) {
	f := NewTextFrame("a longer payload than the header alone", true)
	encoded := f.Encode(false)

	// Feed everything except the last byte.
	_, n, ok := Decode(encoded[:len(encoded)-1], 0)
	if ok {
		t.Fatal("expected Decode to report insufficient data")
	}
	if n != 0 {
		t.Fatalf("bytesConsumed = %d, want 0 on incomplete frame", n)
	}
}

func TestDecodeTwoByteHeaderInsufficient(t *testing.T) {
	_, n, ok := Decode([]byte{0x81}, 0)
	if ok || n != 0 {
		t.Fatalf("expected (false, 0) for a 1-byte buffer, got (%v, %d)", ok, n)
	}
}

func TestDecode16BitExtendedLength(t *testing.T) {
	payload := bytes.Repeat([]byte{'x'}, 200)
	f := Frame{OpCode: OpBinary, Final: true, Payload: payload}
	encoded := f.Encode(false)

	got, n, ok := Decode(encoded, 0)
	if !ok || n != len(encoded) {
		t.Fatalf("Decode failed: ok=%v n=%d want=%d", ok, n, len(encoded))
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatal("payload mismatch for 16-bit extended length frame")
	}
}

func TestDecodeRejectsOversizedPayload(t *testing.T) {
	payload := bytes.Repeat([]byte{'x'}, 300)
	f := Frame{OpCode: OpBinary, Final: true, Payload: payload}
	encoded := f.Encode(false)

	got, n, ok := Decode(encoded, 100)
	if !ok {
		t.Fatal("expected Decode to succeed with a synthetic close frame")
	}
	if n != 0 {
		t.Fatalf("bytesConsumed = %d, want 0 so the caller doesn't treat the oversized frame as consumed", n)
	}
	if got.OpCode != OpClose {
		t.Fatalf("opcode = %v, want Close", got.OpCode)
	}
	code := uint16(got.Payload[0])<<8 | uint16(got.Payload[1])
	if CloseCode(code) != CloseMessageTooBig {
		t.Fatalf("close code = %d, want %d", code, CloseMessageTooBig)
	}
	if string(got.Payload[2:]) != "Message too large" {
		t.Fatalf("reason = %q", got.Payload[2:])
	}
}

func TestControlFramePayloadTruncatedAndForcedFinal(t *testing.T) {
	big := bytes.Repeat([]byte{'y'}, 200)
	f := NewPingFrame(big)
	if !f.Final {
		t.Fatal("control frames must always be final")
	}
	if len(f.Payload) != MaxControlFramePayload {
		t.Fatalf("payload length = %d, want %d", len(f.Payload), MaxControlFramePayload)
	}
}

func TestCloseFrameEncodesCodeAndReason(t *testing.T) {
	f := NewCloseFrame(CloseNormalClosure, "bye")
	if len(f.Payload) != 5 {
		t.Fatalf("payload length = %d, want 5", len(f.Payload))
	}
	code := uint16(f.Payload[0])<<8 | uint16(f.Payload[1])
	if CloseCode(code) != CloseNormalClosure {
		t.Fatalf("code = %d", code)
	}
	if string(f.Payload[2:]) != "bye" {
		t.Fatalf("reason = %q", f.Payload[2:])
	}
}

func TestCloseFrameZeroCodeOmitsPayload(t *testing.T) {
	f := NewCloseFrame(0, "")
	if f.Payload != nil {
		t.Fatalf("expected nil payload, got %v", f.Payload)
	}
}

func TestDecodeUnmaskedServerFrame(t *testing.T) {
	f := NewTextFrame("server says hi", true)
	encoded := f.Encode(false) // server frames are typically unmasked

	got, _, ok := Decode(encoded, 0)
	if !ok || string(got.Payload) != "server says hi" {
		t.Fatalf("got %+v ok=%v", got, ok)
	}
}
