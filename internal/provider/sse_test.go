package provider

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestSSEReader(t *testing.T) {
	body := ": keepalive\n" +
		"event: message_start\n" +
		"data: {\"a\":1}\n" +
		"\n" +
		"data: line one\n" +
		"data: line two\n" +
		"id: 7\n" +
		"\n" +
		"\n" +
		"event: done\n" +
		"data:[DONE]"

	r := NewSSEReader(strings.NewReader(body))
	want := []SSEEvent{
		{Event: "message_start", Data: []byte(`{"a":1}`)},
		{Data: []byte("line one\nline two")},
		{Event: "done", Data: []byte("[DONE]")},
	}
	for i, w := range want {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("event %d: Next() error = %v", i, err)
		}
		if got.Event != w.Event || string(got.Data) != string(w.Data) {
			t.Errorf("event %d = {%q %q}, want {%q %q}", i, got.Event, got.Data, w.Event, w.Data)
		}
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("final Next() error = %v, want io.EOF", err)
	}
}
