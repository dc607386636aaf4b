package smb2

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"
)

// Transport is the connection core's only dependency on how bytes
// reach the wire. Implementations deliver whole SMB messages: one
// ReadMessage call returns exactly one SMB1/SMB2/TRANSFORM_HEADER
// frame, and one WriteMessage call sends exactly one.
type Transport interface {
	WriteMessage(ctx context.Context, message []byte) error
	ReadMessage(ctx context.Context) ([]byte, error)
	Close() error
}

// tcpTransport is the default Transport: Direct-TCP framing (a 4-byte
// big-endian length prefix, top byte reserved/zero, MS-SMB2 2.1) over
// a net.Conn, typically dialed on port 445. It is ambient plumbing,
// not part of the negotiation/demultiplex core, and exists purely so
// the module is runnable end-to-end; Connection never depends on this
// concrete type, only on Transport.
type tcpTransport struct {
	conn net.Conn
}

// DialTCP opens a Direct-TCP SMB transport to addr (host:port,
// conventionally port 445).
func DialTCP(ctx context.Context, addr string) (Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, wrapTransportError("dial", err)
	}
	return &tcpTransport{conn: conn}, nil
}

// DialRetryPolicy bounds DialTCPWithRetry's backoff.
type DialRetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

var defaultDialRetryPolicy = DialRetryPolicy{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
}

// DialTCPWithRetry retries DialTCP with exponential backoff on
// transient failures (timeouts, temporary network errors), per
// isRetryableTransport. A nil policy uses defaultDialRetryPolicy.
func DialTCPWithRetry(ctx context.Context, addr string, policy *DialRetryPolicy, logger Logger) (Transport, error) {
	p := defaultDialRetryPolicy
	if policy != nil {
		p = *policy
	}
	if logger == nil {
		logger = NullLogger{}
	}

	var lastErr error
	delay := p.InitialDelay
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		t, err := DialTCP(ctx, addr)
		if err == nil {
			return t, nil
		}
		lastErr = err

		if !isRetryableTransport(err) || attempt == p.MaxAttempts {
			return nil, err
		}

		logger.Warn("dial %s failed (attempt %d/%d), retrying in %v: %v", addr, attempt, p.MaxAttempts, delay, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return nil, lastErr
}

const maxDirectTCPFrame = 16*1024*1024 - 1 // 3-byte length field, top byte reserved

func (t *tcpTransport) WriteMessage(ctx context.Context, message []byte) error {
	if len(message) > maxDirectTCPFrame {
		return wrapTransportError("write", errFrameTooLarge)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(message)))
	if _, err := t.conn.Write(prefix[:]); err != nil {
		return wrapTransportError("write", err)
	}
	if _, err := t.conn.Write(message); err != nil {
		return wrapTransportError("write", err)
	}
	return nil
}

func (t *tcpTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(dl)
	} else {
		_ = t.conn.SetReadDeadline(time.Time{})
	}

	var prefix [4]byte
	if _, err := io.ReadFull(t.conn, prefix[:]); err != nil {
		return nil, wrapTransportError("read", err)
	}
	n := binary.BigEndian.Uint32(prefix[:]) &^ (0xFF << 24)
	if n > maxDirectTCPFrame {
		return nil, wrapTransportError("read", errFrameTooLarge)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(t.conn, buf); err != nil {
		return nil, wrapTransportError("read", err)
	}
	return buf, nil
}

func (t *tcpTransport) Close() error {
	return wrapTransportError("close", t.conn.Close())
}
