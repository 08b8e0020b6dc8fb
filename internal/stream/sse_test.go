package stream

import (
	"io"
	"strings"
	"testing"
)

func TestDecoder_NamedEvents(t *testing.T) {
	wire := "event: initial_batch\ndata: [1,2]\n\nevent: new_intel\ndata: {\"id\":\"a\"}\n\n"
	d := NewDecoder(strings.NewReader(wire))

	evt, err := d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if evt.Name != "initial_batch" || evt.Data != "[1,2]" {
		t.Errorf("got %+v", evt)
	}

	evt, err = d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if evt.Name != "new_intel" || evt.Data != `{"id":"a"}` {
		t.Errorf("got %+v", evt)
	}

	if _, err = d.Next(); err != io.EOF {
		t.Errorf("want EOF at end of stream, got %v", err)
	}
}

func TestDecoder_SkipsKeepAliveComments(t *testing.T) {
	wire := ": keep-alive\n\n: keep-alive\n\nevent: new_intel\ndata: {}\n\n"
	d := NewDecoder(strings.NewReader(wire))

	evt, err := d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if evt.Name != "new_intel" {
		t.Errorf("Name = %q, want new_intel", evt.Name)
	}
}

func TestDecoder_MultilineDataAndCRLF(t *testing.T) {
	wire := "event: new_intel\r\ndata: line1\r\ndata: line2\r\n\r\n"
	d := NewDecoder(strings.NewReader(wire))

	evt, err := d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if evt.Data != "line1\nline2" {
		t.Errorf("Data = %q", evt.Data)
	}
}

func TestDecoder_UnterminatedFinalEvent(t *testing.T) {
	wire := "event: new_intel\ndata: {}"
	d := NewDecoder(strings.NewReader(wire))

	evt, err := d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if evt.Name != "new_intel" || evt.Data != "{}" {
		t.Errorf("got %+v", evt)
	}
}
