package smb2

import (
	"context"
	"sync"
)

// connState is the coarse lifecycle this package exposes to callers;
// the SMB1-probe/SMB2-wildcard sub-states from spec.md §4.4 live inside
// negotiate() itself and never escape Connect.
type connState int

const (
	stateFresh connState = iota
	stateNegotiating
	stateOperational
	stateClosed
)

// Connection is the client-side SMB2/SMB3 connection core: dialect
// negotiation, per-message signing/encryption, and the concurrent
// request/response demultiplexer keyed by message id. One Connection
// corresponds to one TCP endpoint pair (spec.md §3).
//
// Grounded on the Python original's Connection class for the
// responsibility split, and on lorenz-go-smb2's conn for the
// goroutine/channel shape: a dedicated reader goroutine owns
// transport.ReadMessage and routes responses into per-Request
// completion channels, while Send holds a single mutex across id
// allocation, table insertion, and the transport write (spec.md §5).
type Connection struct {
	transport Transport
	opts      Options

	stateMu sync.Mutex
	state   connState

	// sendMu serializes sequence-window allocation, Request-table
	// insertion, and the transport write as one atomic unit
	// (spec.md §5).
	sendMu sync.Mutex
	seq    *sequenceWindow

	requests *requestTable

	sessionMu    sync.Mutex
	sessionTable map[uint64]*Session

	// Negotiated state, written once by Connect and read-only
	// thereafter (spec.md §3 invariant 6: a negotiated dialect is set
	// once).
	dialect            Dialect
	serverGUID         [16]byte
	serverSecurityMode uint16
	serverCapabilities uint32
	maxTransactSize    uint32
	maxReadSize        uint32
	maxWriteSize       uint32
	securityBuffer     []byte
	cipherID           uint16
	preauthHashID      uint16
	requireSigning     bool
	supportsEncryption bool

	// Dialect-gated capability booleans (spec.md §4.4 "Post-negotiation
	// population"): zero-valued (false) until Connect negotiates a
	// dialect that defines them at all.
	supportsFileLeasing       bool
	supportsMultiCredit       bool
	supportsDirectoryLeasing  bool
	supportsMultiChannel      bool
	supportsPersistentHandles bool

	// preauthIntegrityHashValue records the NEGOTIATE request and
	// response, in that order (spec.md §3 invariant 5 / §8 property 6).
	preauthIntegrityHashValue [][]byte
	preauthHash               [64]byte

	errMu sync.Mutex
	err   error

	readDone chan struct{}
}

// NewConnection wraps transport with the connection core. Connect must
// be called before Send/Receive.
func NewConnection(transport Transport, opts Options) *Connection {
	opts.setDefaults()
	return &Connection{
		transport:    transport,
		opts:         opts,
		seq:          newSequenceWindow(),
		requests:     newRequestTable(),
		sessionTable: make(map[uint64]*Session),
		readDone:     make(chan struct{}),
	}
}

// Dialect reports the negotiated dialect. Zero before Connect succeeds.
func (c *Connection) Dialect() Dialect { return c.dialect }

// RequireSigning reports whether the negotiated security mode requires
// every message to be signed.
func (c *Connection) RequireSigning() bool { return c.requireSigning }

// SupportsEncryption reports whether the negotiated dialect/cipher
// allow per-message encryption (spec.md §9 Open Question: computed
// only from the branch relevant to the negotiated dialect).
func (c *Connection) SupportsEncryption() bool { return c.supportsEncryption }

// SupportsFileLeasing reports whether the negotiated dialect and server
// capabilities support file leasing (2.1+, CapLeasing).
func (c *Connection) SupportsFileLeasing() bool { return c.supportsFileLeasing }

// SupportsMultiCredit reports whether the negotiated dialect and server
// capabilities support multi-credit requests (2.1+, CapLargeMTU).
func (c *Connection) SupportsMultiCredit() bool { return c.supportsMultiCredit }

// SupportsDirectoryLeasing reports whether the negotiated dialect and
// server capabilities support directory leasing (3.x, CapDirectoryLeasing).
func (c *Connection) SupportsDirectoryLeasing() bool { return c.supportsDirectoryLeasing }

// SupportsMultiChannel reports whether the negotiated dialect and
// server capabilities support multichannel (3.x, CapMultiChannel).
func (c *Connection) SupportsMultiChannel() bool { return c.supportsMultiChannel }

// SupportsPersistentHandles always reports false: persistent handles
// are not yet implemented by this package (spec.md §4.4).
func (c *Connection) SupportsPersistentHandles() bool { return c.supportsPersistentHandles }

// PreauthIntegrityHash returns the rolling SHA-512 pre-auth integrity
// hash as of the end of negotiation, for SESSION_SETUP key derivation.
func (c *Connection) PreauthIntegrityHash() [64]byte { return c.preauthHash }

// RegisterSession makes session visible to the receive pump under its
// SessionID, so encrypted or signed responses can be matched to a key
// (spec.md §4.6: "locate the session in session_table by session_id").
func (c *Connection) RegisterSession(session *Session) {
	c.sessionMu.Lock()
	c.sessionTable[session.SessionID] = session
	c.sessionMu.Unlock()
}

func (c *Connection) sessionByID(id uint64) (*Session, bool) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	s, ok := c.sessionTable[id]
	return s, ok
}

// Connect runs dialect negotiation (spec.md §4.4) and, on success,
// starts the background receive pump and enters the OPERATIONAL state.
// dialect pins negotiation to a single dialect; DialectUnknown offers
// the full supported range.
func (c *Connection) Connect(ctx context.Context, dialect Dialect) error {
	c.stateMu.Lock()
	if c.state != stateFresh {
		c.stateMu.Unlock()
		return &NegotiationError{Reason: "connect called outside FRESH state"}
	}
	c.state = stateNegotiating
	c.stateMu.Unlock()

	c.opts.SpecifiedDialect = dialect
	c.opts.Logger.Debug("negotiating, specified dialect=%#x", dialect)
	result, err := negotiate(ctx, c.transport, &c.opts, c.seq)
	if err != nil {
		c.stateMu.Lock()
		c.state = stateFresh
		c.stateMu.Unlock()
		c.opts.Logger.Error("negotiation failed: %v", err)
		return err
	}

	c.dialect = result.dialect
	c.serverGUID = result.serverGUID
	c.serverSecurityMode = result.securityMode
	c.serverCapabilities = result.capabilities
	c.maxTransactSize = result.maxTransactSize
	c.maxReadSize = result.maxReadSize
	c.maxWriteSize = result.maxWriteSize
	c.securityBuffer = result.securityBuffer
	c.cipherID = result.cipherID
	c.preauthHash = result.preauthHash
	c.requireSigning = result.securityMode&NegotiateSigningRequired != 0

	switch {
	case result.dialect == Dialect3_1_1:
		// Only the 3.1.1 branch looks at the negotiated cipher id; a
		// cipher id of 0 means the server's Encryption Capabilities
		// context selected nothing, not "feature unsupported" (spec.md
		// §9 Open Question).
		c.supportsEncryption = result.cipherID != 0
		c.preauthHashID = HashAlgorithmSHA512
	case result.dialect >= Dialect3_0:
		c.supportsEncryption = result.capabilities&CapEncryption != 0
	}

	if result.dialect >= Dialect2_1 {
		c.supportsFileLeasing = result.capabilities&CapLeasing != 0
		c.supportsMultiCredit = result.capabilities&CapLargeMTU != 0
	}
	if result.dialect >= Dialect3_0 {
		c.supportsDirectoryLeasing = result.capabilities&CapDirectoryLeasing != 0
		c.supportsMultiChannel = result.capabilities&CapMultiChannel != 0
		// Persistent handles are not yet implemented by this package
		// regardless of what the server advertises (spec.md §4.4).
		c.supportsPersistentHandles = false
	}

	if result.rawRequest != nil {
		c.preauthIntegrityHashValue = [][]byte{result.rawRequest, result.rawResponse}
	}

	c.stateMu.Lock()
	c.state = stateOperational
	c.stateMu.Unlock()

	c.opts.Logger.Info("connection operational: dialect=%#x requireSigning=%v supportsEncryption=%v", c.dialect, c.requireSigning, c.supportsEncryption)

	go c.receiveLoop()

	return nil
}

// Disconnect closes the transport and fails every outstanding request
// with ErrConnectionClosed.
func (c *Connection) Disconnect() error {
	c.stateMu.Lock()
	if c.state == stateClosed {
		c.stateMu.Unlock()
		return nil
	}
	c.state = stateClosed
	c.stateMu.Unlock()

	c.opts.Logger.Debug("disconnecting")
	c.requests.shutdown(ErrConnectionClosed)
	return c.transport.Close()
}

// latchErr records the first fatal error on the connection and fails
// every outstanding and future request with it (spec.md §7).
func (c *Connection) latchErr(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	c.opts.Logger.Error("connection latched error: %v", err)
	c.requests.shutdown(err)
}

// Send frames body as an SMB2 message and hands it to the transport.
// session and tree may be nil (NEGOTIATE, and SESSION_SETUP before a
// session id is assigned). Send returns the Request handle; pass it to
// Receive to await the reply. Per spec.md §4.5 step 3, message id
// allocation, Request-table insertion, and the transport write happen
// as one atomic unit under sendMu.
func (c *Connection) Send(ctx context.Context, command uint16, body []byte, session *Session, tree *Tree) (*Request, error) {
	c.stateMu.Lock()
	operational := c.state == stateOperational
	c.stateMu.Unlock()
	if !operational && command != CmdNegotiate {
		return nil, &ProtocolError{Context: "send", Cause: errNotOperational}
	}

	hdr := &Header{
		StructureSize: SMB2HeaderSize,
		Command:       command,
		CreditCharge:  1,
		CreditRequest: 1,
	}
	if session != nil {
		hdr.SessionID = session.SessionID
	}
	if tree != nil {
		hdr.TreeID = tree.TreeConnectID
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	messageID := c.seq.allocate(hdr.CreditCharge)
	hdr.MessageID = messageID
	c.opts.Logger.Debug("send command=%#x messageID=%d", command, messageID)

	// Framing rule (spec.md invariant 4): encryption, when selected,
	// excludes separate signing of the same message.
	var wire []byte
	switch {
	case session != nil && session.EncryptData && len(session.EncryptionKey) > 0:
		plaintext := append(hdr.Marshal(), body...)
		cipherID := c.cipherID
		if cipherID == 0 {
			cipherID = CipherAES128CCM
		}
		enc, encErr := encryptMessage(cipherID, session.EncryptionKey, session.SessionID, session.nextEncryptNonce(), plaintext)
		if encErr != nil {
			return nil, encErr
		}
		wire = enc
	case session != nil && session.SigningRequired && len(session.SigningKey) > 0:
		hdr.SetSigned(true)
		plaintext := append(hdr.Marshal(), body...)
		sig, sigErr := signMessage(plaintext, session.SigningKey, c.dialect)
		if sigErr != nil {
			return nil, sigErr
		}
		applySignature(plaintext, sig)
		wire = plaintext
	default:
		wire = append(hdr.Marshal(), body...)
	}

	req := newRequest(messageID, command)
	if err := c.requests.insert(req); err != nil {
		return nil, err
	}

	if err := c.transport.WriteMessage(ctx, wire); err != nil {
		c.requests.pop(messageID)
		return nil, err
	}

	return req, nil
}

// Cancel sends SMB2_CANCEL for an outstanding request. Per spec.md §4.3,
// cancellation reuses the target request's message id and does not
// allocate a new one or advance the sequence window.
func (c *Connection) Cancel(ctx context.Context, target *Request) error {
	hdr := &Header{
		StructureSize: SMB2HeaderSize,
		Command:       CmdCancel,
		MessageID:     target.MessageID,
	}
	wire := append(hdr.Marshal(), make([]byte, 4)...) // CANCEL body: Reserved uint32

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.transport.WriteMessage(ctx, wire)
}

// Receive blocks until req's terminal (non-STATUS_PENDING) response
// arrives and returns its header and body. STATUS_PENDING responses
// are absorbed by the receive pump and never surface here (spec.md
// §4.6, §8 property 5).
func (c *Connection) Receive(ctx context.Context, req *Request) (*Header, []byte, error) {
	select {
	case resp := <-req.done:
		if resp.err != nil {
			return nil, nil, resp.err
		}
		if !resp.header.Status.IsSuccess() {
			return resp.header, resp.body, &SMBResponseError{
				MessageID: resp.header.MessageID,
				Command:   resp.header.Command,
				Status:    resp.header.Status,
				Header:    resp.header,
			}
		}
		return resp.header, resp.body, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// receiveLoop is the dedicated reader goroutine: it owns
// transport.ReadMessage and is the single writer into every Request's
// done channel (spec.md §5 approach (i)).
func (c *Connection) receiveLoop() {
	defer close(c.readDone)

	ctx := context.Background()
	for {
		raw, err := c.transport.ReadMessage(ctx)
		if err != nil {
			c.latchErr(err)
			return
		}

		hdr, body, err := c.unwrapMessage(raw)
		if err != nil {
			c.latchErr(err)
			return
		}

		if hdr.MessageID == MessageIDUnsolicited {
			continue
		}

		if hdr.Status == StatusPending {
			// Leave the request in the table; a terminal response
			// follows later under the same message id (spec.md §4.6,
			// §8 property 5).
			continue
		}

		req, ok := c.requests.pop(hdr.MessageID)
		if !ok {
			c.latchErr(&ProtocolError{Context: "receive pump", Cause: ErrUnexpectedMessageID})
			return
		}
		c.opts.Logger.Debug("receive command=%#x messageID=%d status=%#x", hdr.Command, hdr.MessageID, uint32(hdr.Status))
		req.done <- &response{header: hdr, body: body, message: raw}
	}
}

// unwrapMessage implements spec.md §4.6's receive pump: TRANSFORM_HEADER
// frames are decrypted first, then every frame is signature-verified
// unless one of the §4.6 skip rules applies.
func (c *Connection) unwrapMessage(raw []byte) (*Header, []byte, error) {
	var message []byte

	switch {
	case isTransformHeader(raw):
		th, err := UnmarshalTransformHeader(raw)
		if err != nil {
			return nil, nil, err
		}
		if th.Flags != transformFlagEncrypted {
			return nil, nil, &ProtocolError{Context: "transform header", Cause: errBadTransformFlags}
		}
		session, ok := c.sessionByID(th.SessionID)
		if !ok || len(session.DecryptionKey) == 0 {
			return nil, nil, &ProtocolError{Context: "transform header", Cause: errUnknownSession}
		}
		cipherID := c.cipherID
		if cipherID == 0 {
			cipherID = CipherAES128CCM
		}
		plain, err := decryptMessage(cipherID, session.DecryptionKey, raw)
		if err != nil {
			return nil, nil, err
		}
		message = plain
	case isSMB2ProtocolID(raw):
		message = raw
	default:
		return nil, nil, &ProtocolError{Context: "receive pump", Cause: errNotAnSMB2Message}
	}

	hdr, err := UnmarshalHeader(message)
	if err != nil {
		return nil, nil, err
	}

	if err := c.verifyIfRequired(hdr, message); err != nil {
		return nil, nil, err
	}

	return hdr, message[SMB2HeaderSize:], nil
}

// verifyIfRequired applies the skip rules from spec.md §4.6: no
// verification for the unsolicited message id, for unsigned frames, or
// for SESSION_SETUP responses (no session keys established yet).
func (c *Connection) verifyIfRequired(hdr *Header, message []byte) error {
	if hdr.MessageID == MessageIDUnsolicited || !hdr.IsSigned() {
		return nil
	}
	if hdr.Command == CmdSessionSetup {
		return nil
	}
	session, ok := c.sessionByID(hdr.SessionID)
	if !ok || len(session.SigningKey) == 0 {
		if c.requireSigning {
			return &CryptoError{Op: "verify", Cause: ErrSignatureRequired}
		}
		return nil
	}
	valid, err := verifySignature(message, session.SigningKey, c.dialect)
	if err != nil {
		return err
	}
	if !valid {
		return &CryptoError{Op: "verify", Cause: ErrSignatureMismatch}
	}
	return nil
}

func isTransformHeader(data []byte) bool {
	return len(data) >= 4 && string(data[0:4]) == "\xFDSMB"
}
