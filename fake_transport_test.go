package smb2

import (
	"context"
	"io"
	"sync"
)

// fakeTransport is an in-memory Transport used to drive negotiation and
// connection tests without a real socket. WriteMessage records whatever
// was sent; ReadMessage serves messages queued by the test via
// queueResponse, in order, blocking until one is available or the
// context is done.
type fakeTransport struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	closed   bool

	reads chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{reads: make(chan []byte, 64)}
}

func (f *fakeTransport) WriteMessage(ctx context.Context, message []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	cp := make([]byte, len(message))
	copy(cp, message)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case m, ok := <-f.reads:
		if !ok {
			return nil, io.EOF
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		close(f.reads)
		f.closed = true
	}
	return nil
}

func (f *fakeTransport) queueResponse(message []byte) {
	f.reads <- message
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeTransport) writeAt(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.writes) {
		return nil
	}
	return f.writes[i]
}

func (f *fakeTransport) lastWrite() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

// buildNegotiateResponseBody constructs a well-formed SMB2 NEGOTIATE
// response body. When includeContexts is true and dialect is 3.1.1, it
// appends a preauth-integrity context (SHA-512) and an encryption
// context (AES-128-GCM), laid out the way parseNegotiateContexts expects
// to read them (MS-SMB2 2.2.3.1.1/.2).
func buildNegotiateResponseBody(dialect Dialect, includeContexts bool) []byte {
	return buildNegotiateResponseBodyWithCapabilities(dialect, includeContexts, CapEncryption)
}

// buildNegotiateResponseBodyWithCapabilities is buildNegotiateResponseBody
// with the Capabilities field under caller control, for exercising the
// dialect-gated supports_* population that reads specific capability bits.
func buildNegotiateResponseBodyWithCapabilities(dialect Dialect, includeContexts bool, capabilities uint32) []byte {
	w := newByteWriter(128)
	w.WriteUint16(65) // StructureSize
	w.WriteUint16(NegotiateSigningEnabled)
	w.WriteUint16(uint16(dialect))
	contextCountPos := w.Len()
	w.WriteUint16(0) // NegotiateContextCount, patched below
	w.WriteGUID(newGUID())
	w.WriteUint32(capabilities)
	w.WriteUint32(1 << 20)
	w.WriteUint32(1 << 20)
	w.WriteUint32(1 << 20)
	w.WriteUint64(0) // SystemTime
	w.WriteUint64(0) // ServerStartTime
	w.WriteUint16(0) // SecurityBufferOffset
	w.WriteUint16(0) // SecurityBufferLength
	contextOffsetPos := w.Len()
	w.WriteUint32(0) // NegotiateContextOffset, patched below
	w.WritePadTo8()

	if !includeContexts || dialect != Dialect3_1_1 {
		return w.Bytes()
	}

	contextsStart := w.Len()

	preauth := newByteWriter(6)
	preauth.WriteUint16(1) // HashAlgorithmCount
	preauth.WriteUint16(0) // SaltLength
	preauth.WriteUint16(HashAlgorithmSHA512)
	w.WriteUint16(ContextPreauthIntegrityCapabilities)
	w.WriteUint16(uint16(preauth.Len()))
	w.WriteUint32(0)
	w.WriteBytes(preauth.Bytes())
	w.WritePadTo8()

	enc := newByteWriter(4)
	enc.WriteUint16(1) // CipherCount
	enc.WriteUint16(CipherAES128GCM)
	w.WriteUint16(ContextEncryptionCapabilities)
	w.WriteUint16(uint16(enc.Len()))
	w.WriteUint32(0)
	w.WriteBytes(enc.Bytes())

	buf := w.Bytes()
	le.PutUint16(buf[contextCountPos:], 2)
	le.PutUint32(buf[contextOffsetPos:], uint32(SMB2HeaderSize+contextsStart))
	return buf
}

// buildNegotiateResponseMessage wraps buildNegotiateResponseBody with a
// valid SMB2 header, producing a full message as it would arrive off the
// wire.
func buildNegotiateResponseMessage(messageID uint64, dialect Dialect, includeContexts bool) []byte {
	hdr := &Header{
		StructureSize: SMB2HeaderSize,
		Command:       CmdNegotiate,
		Flags:         FlagServerToRedir,
		MessageID:     messageID,
		Status:        StatusSuccess,
	}
	return append(hdr.Marshal(), buildNegotiateResponseBody(dialect, includeContexts)...)
}

// buildNegotiateResponseMessageWithCapabilities is buildNegotiateResponseMessage
// with the Capabilities field under caller control.
func buildNegotiateResponseMessageWithCapabilities(messageID uint64, dialect Dialect, includeContexts bool, capabilities uint32) []byte {
	hdr := &Header{
		StructureSize: SMB2HeaderSize,
		Command:       CmdNegotiate,
		Flags:         FlagServerToRedir,
		MessageID:     messageID,
		Status:        StatusSuccess,
	}
	return append(hdr.Marshal(), buildNegotiateResponseBodyWithCapabilities(dialect, includeContexts, capabilities)...)
}

// buildResponseMessage builds an arbitrary well-formed SMB2 response
// message (header + body), for exercising Send/Receive demultiplexing
// outside of NEGOTIATE.
func buildResponseMessage(messageID uint64, command uint16, status NTStatus, body []byte) []byte {
	hdr := &Header{
		StructureSize: SMB2HeaderSize,
		Command:       command,
		Flags:         FlagServerToRedir,
		MessageID:     messageID,
		Status:        status,
	}
	return append(hdr.Marshal(), body...)
}

// buildSMB1WildcardResponse builds the SMB1-shaped response a server
// sends when it wants the client to continue to Phase 2 (the response's
// DialectRevision is the SMB2 wildcard). Servers signal this by replying
// with an SMB2-protocol-id message whose body looks like a (mostly
// empty) NEGOTIATE response carrying the wildcard dialect.
func buildSMB1WildcardResponse() []byte {
	return buildNegotiateResponseMessage(0, DialectSMB2Wildcard, false)
}
