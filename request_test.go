package smb2

import "testing"

func TestRequestTableInsertPopPeek(t *testing.T) {
	table := newRequestTable()
	req := newRequest(5, CmdEcho)

	if err := table.insert(req); err != nil {
		t.Fatalf("insert() error = %v", err)
	}
	if table.len() != 1 {
		t.Fatalf("len() = %d, want 1", table.len())
	}

	if got, ok := table.peek(5); !ok || got != req {
		t.Errorf("peek(5) = (%v, %v), want (%v, true)", got, ok, req)
	}
	if table.len() != 1 {
		t.Errorf("peek() must not remove the entry; len() = %d, want 1", table.len())
	}

	got, ok := table.pop(5)
	if !ok || got != req {
		t.Fatalf("pop(5) = (%v, %v), want (%v, true)", got, ok, req)
	}
	if table.len() != 0 {
		t.Errorf("pop() leaves len() = %d, want 0 (table empty after a terminal response)", table.len())
	}

	if _, ok := table.pop(5); ok {
		t.Error("pop(5) after it was already popped: expected ok = false")
	}
}

func TestRequestTablePendingContinuationKeepsEntry(t *testing.T) {
	// spec.md §8 "pending continuation" property: the table still has
	// the entry after a STATUS_PENDING is observed (simulated here by
	// the caller choosing peek over pop), and is empty only once the
	// terminal response is popped.
	table := newRequestTable()
	req := newRequest(7, CmdCreate)
	if err := table.insert(req); err != nil {
		t.Fatalf("insert() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, ok := table.peek(7); !ok {
			t.Fatalf("peek(7) iteration %d: expected ok = true while pending", i)
		}
	}
	if table.len() != 1 {
		t.Errorf("len() after repeated pending peeks = %d, want 1", table.len())
	}

	if _, ok := table.pop(7); !ok {
		t.Fatal("pop(7) on the terminal response: expected ok = true")
	}
	if table.len() != 0 {
		t.Errorf("len() after the terminal response = %d, want 0", table.len())
	}
}

func TestRequestTableShutdownDeliversErrorToOutstanding(t *testing.T) {
	table := newRequestTable()
	req := newRequest(1, CmdRead)
	if err := table.insert(req); err != nil {
		t.Fatalf("insert() error = %v", err)
	}

	table.shutdown(ErrConnectionClosed)

	select {
	case resp := <-req.done:
		if resp.err != ErrConnectionClosed {
			t.Errorf("shutdown delivered err = %v, want %v", resp.err, ErrConnectionClosed)
		}
	default:
		t.Fatal("shutdown() did not deliver to the outstanding request's done channel")
	}

	if table.len() != 0 {
		t.Errorf("len() after shutdown = %d, want 0", table.len())
	}
}

func TestRequestTableInsertFailsAfterShutdown(t *testing.T) {
	table := newRequestTable()
	table.shutdown(ErrConnectionClosed)

	if err := table.insert(newRequest(9, CmdClose)); err == nil {
		t.Error("insert() after shutdown: expected an error, got nil")
	}
}

func TestNewRequestFieldsArePopulated(t *testing.T) {
	req := newRequest(3, CmdWrite)
	if req.MessageID != 3 {
		t.Errorf("MessageID = %d, want 3", req.MessageID)
	}
	if req.Command != CmdWrite {
		t.Errorf("Command = %#x, want %#x", req.Command, CmdWrite)
	}
	if req.CancelID == ([8]byte{}) {
		t.Error("CancelID was not populated with random bytes")
	}
	if req.AsyncID == ([8]byte{}) {
		t.Error("AsyncID was not populated with random bytes")
	}
	if req.Timestamp.IsZero() {
		t.Error("Timestamp was not set")
	}
}
