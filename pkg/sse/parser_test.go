package sse

import (
	"reflect"
	"testing"
)

func TestParserDispatchesOnEmptyLine(t *testing.T) {
	var p parser
	var got []Event
	p.feed([]byte("event: update\ndata: hello\nid: 1\n\n"), func(e Event) {
		got = append(got, e)
	})
	want := []Event{{ID: "1", Type: "update", Data: "hello"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestParserAppendsMultipleDataFieldsWithNewline(t *testing.T) {
	var p parser
	var got []Event
	p.feed([]byte("data: line1\ndata: line2\n\n"), func(e Event) {
		got = append(got, e)
	})
	if len(got) != 1 || got[0].Data != "line1\nline2" {
		t.Fatalf("got %+v", got)
	}
}

func TestParserSplitAcrossChunksYieldsSameEvent(t *testing.T) {
	var p parser
	var got []Event
	collect := func(e Event) { got = append(got, e) }

	full := "event: ping\ndata: abc\nid: 42\nretry: 500\n\n"
	for i := 0; i < len(full); i++ {
		p.feed([]byte{full[i]}, collect)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d: %+v", len(got), got)
	}
	want := Event{ID: "42", Type: "ping", Data: "abc", Retry: 500}
	if got[0] != want {
		t.Fatalf("got %+v, want %+v", got[0], want)
	}
}

func TestParserLineWithNoColonIsFieldWithEmptyValue(t *testing.T) {
	var p parser
	var got []Event
	p.feed([]byte("data\ndata: x\n\n"), func(e Event) { got = append(got, e) })
	if len(got) != 1 || got[0].Data != "x" {
		t.Fatalf("got %+v", got)
	}
}

func TestParserIgnoresInvalidRetry(t *testing.T) {
	var p parser
	var got []Event
	p.feed([]byte("retry: not-a-number\ndata: x\n\n"), func(e Event) { got = append(got, e) })
	if len(got) != 1 || got[0].Retry != 0 {
		t.Fatalf("got %+v", got)
	}
}

func TestParserEmptyEventNotDispatched(t *testing.T) {
	var p parser
	var got []Event
	p.feed([]byte("\n\n"), func(e Event) { got = append(got, e) })
	if len(got) != 0 {
		t.Fatalf("expected no events, got %+v", got)
	}
}

func TestParserCRLFLineEndings(t *testing.T) {
	var p parser
	var got []Event
	p.feed([]byte("data: x\r\n\r\n"), func(e Event) { got = append(got, e) })
	if len(got) != 1 || got[0].Data != "x" {
		t.Fatalf("got %+v", got)
	}
}

func TestEventTypeDefaultsToMessage(t *testing.T) {
	e := Event{Data: "x"}
	if e.EventType() != "message" {
		t.Fatalf("EventType() = %q, want message", e.EventType())
	}
}
