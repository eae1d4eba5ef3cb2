package appmsg

import "testing"

func TestDefaultAcceptsNonEmptyPayload(t *testing.T) {
	msg, ok := Default("plc-1/status", []byte("v=1"))
	if !ok {
		t.Fatal("expected ok=true for non-empty payload")
	}
	if msg.Topic != "plc-1/status" || string(msg.Payload) != "v=1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestDefaultRejectsEmptyPayload(t *testing.T) {
	if _, ok := Default("plc-1/status", nil); ok {
		t.Fatal("expected ok=false for empty payload")
	}
	if _, ok := Default("plc-1/status", []byte{}); ok {
		t.Fatal("expected ok=false for empty payload")
	}
}
