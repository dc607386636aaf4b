package smb2

import "context"

// negotiateResult is everything a successful negotiation establishes
// on the connection.
type negotiateResult struct {
	dialect            Dialect
	serverGUID         [16]byte
	securityMode       uint16
	capabilities       uint32
	maxTransactSize    uint32
	maxReadSize        uint32
	maxWriteSize       uint32
	securityBuffer     []byte
	preauthHash        [64]byte
	cipherID           uint16
	usesPreauthHashing bool

	// rawRequest/rawResponse are the exact bytes exchanged during the
	// SMB2/SMB3 NEGOTIATE, recorded verbatim so the connection's
	// preauth_integrity_hash_value invariant (spec.md §3 invariant 5 /
	// §8 property 6) holds independent of the rolling hash computed
	// above. Both are nil when Phase 1's response was itself
	// authoritative (no Phase 2 NEGOTIATE was sent), whatever dialect
	// that response selected.
	rawRequest  []byte
	rawResponse []byte
}

// negotiate runs the two-phase dialect negotiation described in
// spec.md §4.4: an SMB1 NEGOTIATE probe offering the SMB2 wildcard
// dialect (the wildcard string is omitted only when the caller pinned
// dialect 2.0.2), followed by the real SMB2/SMB3 NEGOTIATE exchange
// when the probe's response selects the wildcard dialect. Grounded on
// lorenz-go-smb2's conn.negotiate (the retry-on-wildcard control flow)
// and the Python original's _send_smb1_negotiate/_send_smb2_negotiate
// (the exact phase sequencing and pre-auth hash bookkeeping).
func negotiate(ctx context.Context, t Transport, opts *Options, seq *sequenceWindow) (*negotiateResult, error) {
	// The SMB1 probe carries its own fixed MID and never touches seq,
	// so a Phase 2 NEGOTIATE is allocated message id 0
	// (MessageIDNegotiate). When Phase 1 is authoritative nothing is
	// allocated here.
	phase1, err := probeSMB1(ctx, t, opts.SpecifiedDialect != Dialect2_0_2)
	if err != nil {
		return nil, err
	}
	if phase1.DialectRevision != DialectSMB2Wildcard {
		// The SMB1 probe's response is itself authoritative: the
		// server negotiated a concrete dialect without needing a
		// second round trip.
		return negotiateResultFromResponse(phase1, nil, nil), nil
	}

	offer311 := opts.SpecifiedDialect == DialectUnknown || opts.SpecifiedDialect == Dialect3_1_1
	dialects := offeredDialectsFor(opts.SpecifiedDialect, offer311)

	var salt []byte
	var preauthHash [64]byte
	if offer311 {
		salt = opts.ClientGUID[:]
		preauthHash = initPreauthHash()
	}

	req := &NegotiateRequest{
		SecurityMode: NegotiateSigningEnabled,
		ClientGUID:   opts.ClientGUID,
		Dialects:     dialects,
		PreauthSalt:  salt,
	}
	if opts.RequireSigning {
		req.SecurityMode |= NegotiateSigningRequired
	}

	messageID := seq.allocate(1)

	reqBody := req.Marshal()
	hdr := NewRequestHeader(CmdNegotiate, messageID, 0, 1)
	reqMessage := append(hdr.Marshal(), reqBody...)

	if offer311 {
		preauthHash = updatePreauthHash(preauthHash, reqMessage)
	}

	if err := t.WriteMessage(ctx, reqMessage); err != nil {
		return nil, err
	}

	respMessage, err := t.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := parseNegotiateResponseMessage(respMessage)
	if err != nil {
		return nil, err
	}

	if offer311 && resp.DialectRevision == Dialect3_1_1 {
		preauthHash = updatePreauthHash(preauthHash, respMessage)
	}

	if !dialectOffered(dialects, resp.DialectRevision) {
		return nil, &NegotiationError{Reason: "server selected a dialect the client did not offer"}
	}

	result := negotiateResultFromResponse(resp, reqMessage, respMessage)
	result.preauthHash = preauthHash
	return result, nil
}

func negotiateResultFromResponse(resp *NegotiateResponse, rawRequest, rawResponse []byte) *negotiateResult {
	return &negotiateResult{
		dialect:            resp.DialectRevision,
		serverGUID:         resp.ServerGUID,
		securityMode:       resp.SecurityMode,
		capabilities:       resp.Capabilities,
		maxTransactSize:    resp.MaxTransactSize,
		maxReadSize:        resp.MaxReadSize,
		maxWriteSize:       resp.MaxWriteSize,
		securityBuffer:     resp.SecurityBuffer,
		cipherID:           resp.CipherID,
		usesPreauthHashing: resp.DialectRevision == Dialect3_1_1,
		rawRequest:         rawRequest,
		rawResponse:        rawResponse,
	}
}

// probeSMB1 sends the SMB1 NEGOTIATE probe and returns the parsed
// SMB2_NEGOTIATE_RESPONSE body the server replies with: either a
// dialect_revision of the SMB2 wildcard (meaning "continue to Phase
// 2") or a concrete dialect (meaning this response is authoritative).
// A response still shaped as SMB1 means the server has no SMB2/SMB3
// support at all (spec.md Non-goals: SMB1 is not a usable dialect).
func probeSMB1(ctx context.Context, t Transport, offerWildcard bool) (*NegotiateResponse, error) {
	if err := t.WriteMessage(ctx, buildSMB1NegotiateRequest(offerWildcard)); err != nil {
		return nil, err
	}
	resp, err := t.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	if !isSMB2ProtocolID(resp) {
		return nil, &NegotiationError{Reason: "server does not support SMB2/SMB3"}
	}
	return parseNegotiateResponseMessage(resp)
}

func parseNegotiateResponseMessage(message []byte) (*NegotiateResponse, error) {
	hdr, err := UnmarshalHeader(message)
	if err != nil {
		return nil, &NegotiationError{Reason: "malformed negotiate response header", Cause: err}
	}
	if !hdr.Status.IsSuccess() {
		return nil, &NegotiationError{Reason: "server rejected NEGOTIATE", Cause: &SMBResponseError{
			MessageID: hdr.MessageID, Command: hdr.Command, Status: hdr.Status, Header: hdr,
		}}
	}
	resp, err := UnmarshalNegotiateResponse(message[SMB2HeaderSize:], message)
	if err != nil {
		return nil, &NegotiationError{Reason: "malformed negotiate response body", Cause: err}
	}
	return resp, nil
}

func offeredDialectsFor(specified Dialect, include311 bool) []Dialect {
	if specified != DialectUnknown {
		return []Dialect{specified}
	}
	dialects := make([]Dialect, 0, len(offeredDialects))
	for i := len(offeredDialects) - 1; i >= 0; i-- {
		d := offeredDialects[i]
		if d == Dialect3_1_1 && !include311 {
			continue
		}
		dialects = append(dialects, d)
	}
	return dialects
}

func dialectOffered(offered []Dialect, selected Dialect) bool {
	for _, d := range offered {
		if d == selected {
			return true
		}
	}
	return false
}
