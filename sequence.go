package smb2

import "sync"

// sequenceWindow allocates message ids per spec.md §4.3: a low/high
// cursor pair advanced together on every allocation. Send allocates
// while the connection's send mutex is held (negotiate allocates before
// the receive pump starts, without it); the window carries its own lock so
// unit tests can exercise allocation in isolation (grounded on the
// teacher's table-locking idiom in session_manager.go).
//
// This does not enforce a server-granted credit ceiling the way a full
// MS-SMB2 client eventually would (CreditRequest/CreditResponse
// bookkeeping, MS-SMB2 3.2.5.1.8) — allocate always succeeds and simply
// advances the window by credit_charge, matching the Python original's
// _increment_sequence_windows, which has no insufficiency check either.
type sequenceWindow struct {
	mu   sync.Mutex
	low  uint64
	high uint64
}

// newSequenceWindow starts a fresh window at id 0.
func newSequenceWindow() *sequenceWindow {
	return &sequenceWindow{}
}

// allocate reserves creditCharge consecutive message ids (one id per
// credit charged) starting at the current ceiling, and advances both
// cursors past them: "returns high, then sets both low and high to
// high + credit_charge" (spec.md §4.3).
func (w *sequenceWindow) allocate(creditCharge uint16) (messageID uint64) {
	if creditCharge == 0 {
		creditCharge = 1
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	messageID = w.high
	w.low = w.high + uint64(creditCharge)
	w.high = w.low
	return messageID
}

// outstanding reports the next allocatable message id (the current
// ceiling), for diagnostics and tests.
func (w *sequenceWindow) outstanding() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.low
}
