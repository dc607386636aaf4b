package smb2

import "time"

// Options configures a Connection before Connect is called. It is the
// connection core's analogue of the teacher's pooling Config, trimmed
// to the fields the dialect-negotiation/signing/encryption/demux core
// actually consumes — authentication, share selection, and pooling
// belong to higher layers this module does not implement.
type Options struct {
	// ClientGUID identifies this client across connections, used in
	// the NEGOTIATE request and, for 3.1.1, the preauth salt. A fresh
	// one is generated if left zero.
	ClientGUID [16]byte

	// RequireSigning, if true, sets NegotiateSigningRequired in the
	// NEGOTIATE request's security mode. It does not reject a server
	// that does not sign, and it does not sign outbound requests: Send
	// signs per Session (SigningRequired and SigningKey).
	RequireSigning bool

	// SpecifiedDialect pins negotiation to a single dialect. This only
	// narrows the Phase 2 SMB2 NEGOTIATE dialect list (and the SMB1
	// probe's wildcard offer, per MS-SMB2 3.2.4.2.2.1, when pinned to
	// exactly 2.0.2); the SMB1-wildcard probe itself still runs. Zero
	// means "offer the full supported range."
	SpecifiedDialect Dialect

	// ConnectTimeout defaults to 10s and is checked by Validate. Connect
	// does not dial, and neither Connect nor DialTCP reads this field.
	ConnectTimeout time.Duration

	// NegotiateTimeout defaults to 10s and is checked by Validate.
	// Connect does not apply it: the negotiate exchange is bounded only
	// by the context passed to Connect.
	NegotiateTimeout time.Duration

	// Logger receives structured diagnostics. Defaults to NullLogger.
	Logger Logger
}

// setDefaults fills unset fields with the connection core's defaults.
func (o *Options) setDefaults() {
	if o.ClientGUID == ([16]byte{}) {
		o.ClientGUID = newGUID()
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.NegotiateTimeout == 0 {
		o.NegotiateTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = NullLogger{}
	}
}

// Validate reports whether the options are internally consistent.
func (o *Options) Validate() error {
	if o.SpecifiedDialect != DialectUnknown {
		valid := false
		for _, d := range offeredDialects {
			if d == o.SpecifiedDialect {
				valid = true
				break
			}
		}
		if !valid {
			return ErrUnsupportedDialect
		}
	}
	if o.ConnectTimeout < 0 || o.NegotiateTimeout < 0 {
		return ErrInvalidConfig
	}
	return nil
}
