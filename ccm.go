package smb2

import (
	"crypto/cipher"
	"crypto/subtle"
	"errors"
)

// ccm implements AES-CCM (RFC 3610) as a cipher.AEAD. Neither the
// standard library nor golang.org/x/crypto exports CCM, so it is
// composed here from crypto/cipher.Block the same way computeAESCMAC
// in signing.go composes CMAC from the same primitive.
type ccm struct {
	block   cipher.Block
	tagSize int
	nonceSz int
}

// newCCM returns a CCM AEAD over block with the given tag and nonce
// sizes. SMB2 always uses a 16-byte tag and an 11-byte effective nonce.
func newCCM(block cipher.Block, tagSize, nonceSize int) (cipher.AEAD, error) {
	if block.BlockSize() != 16 {
		return nil, errors.New("ccm: block cipher must have 128-bit blocks")
	}
	if tagSize < 4 || tagSize > 16 || tagSize%2 != 0 {
		return nil, errors.New("ccm: invalid tag size")
	}
	if nonceSize < 7 || nonceSize > 13 {
		return nil, errors.New("ccm: invalid nonce size")
	}
	return &ccm{block: block, tagSize: tagSize, nonceSz: nonceSize}, nil
}

func (c *ccm) NonceSize() int { return c.nonceSz }
func (c *ccm) Overhead() int  { return c.tagSize }

// q is the length, in bytes, of the message-length field in the CCM
// formatting block B0, derived from the nonce size (15 - nonceSz per
// RFC 3610, with 1 byte reserved for flags).
func (c *ccm) q() int { return 15 - c.nonceSz }

func (c *ccm) Seal(dst, nonce, plaintext, additionalData []byte) []byte {
	if len(nonce) != c.nonceSz {
		panic("ccm: bad nonce length")
	}
	tag := c.mac(nonce, plaintext, additionalData)
	ciphertext := c.ctr(nonce, plaintext, tag)
	ret, out := sliceForAppend(dst, len(plaintext)+c.tagSize)
	copy(out, ciphertext)
	copy(out[len(plaintext):], tag)
	return ret
}

func (c *ccm) Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(nonce) != c.nonceSz {
		panic("ccm: bad nonce length")
	}
	if len(ciphertext) < c.tagSize {
		return nil, errors.New("ccm: ciphertext too short")
	}
	ct := ciphertext[:len(ciphertext)-c.tagSize]
	gotTag := ciphertext[len(ciphertext)-c.tagSize:]

	plaintext := c.ctr(nonce, ct, gotTag)
	wantTag := c.mac(nonce, plaintext, additionalData)

	if subtle.ConstantTimeCompare(gotTag, wantTag) != 1 {
		for i := range plaintext {
			plaintext[i] = 0
		}
		return nil, errors.New("ccm: message authentication failed")
	}

	ret, out := sliceForAppend(dst, len(plaintext))
	copy(out, plaintext)
	return ret, nil
}

// mac computes the CBC-MAC over the formatted B0 block, the encoded
// additional data, and the payload, per RFC 3610 section 2.2.
func (c *ccm) mac(nonce, payload, aad []byte) []byte {
	b0 := make([]byte, 16)
	flags := byte(0)
	if len(aad) > 0 {
		flags |= 0x40
	}
	flags |= byte((c.tagSize-2)/2) << 3
	flags |= byte(c.q() - 1)
	b0[0] = flags
	copy(b0[1:1+c.nonceSz], nonce)
	putLengthField(b0[1+c.nonceSz:], uint64(len(payload)), c.q())

	x := make([]byte, 16)
	c.block.Encrypt(x, b0)

	if len(aad) > 0 {
		aadBlock := encodeAADLength(aad)
		x = cbcMACBlocks(c.block, x, aadBlock)
	}
	if len(payload) > 0 {
		x = cbcMACBlocks(c.block, x, payload)
	}
	return x[:c.tagSize]
}

// ctr runs AES-CTR with the CCM counter-block convention (flags byte
// q-1, counter starting at 0 for the tag-encryption block and
// 1 for the payload) over payload, returning the transformed bytes.
// The same routine both encrypts (payload=plaintext) and decrypts
// (payload=ciphertext) since CTR mode is its own inverse; tag is the
// already-computed/received tag to encrypt/decrypt in place of counter
// block 0.
func (c *ccm) ctr(nonce, payload, tag []byte) []byte {
	a0 := make([]byte, 16)
	a0[0] = byte(c.q() - 1)
	copy(a0[1:1+c.nonceSz], nonce)

	s0 := make([]byte, 16)
	putCounter(a0, c.q(), 0)
	c.block.Encrypt(s0, a0)
	for i := range tag {
		tag[i] ^= s0[i]
	}

	out := make([]byte, len(payload))
	block := make([]byte, 16)
	counter := uint64(1)
	for i := 0; i < len(payload); i += 16 {
		putCounter(a0, c.q(), counter)
		c.block.Encrypt(block, a0)
		end := i + 16
		if end > len(payload) {
			end = len(payload)
		}
		for j := i; j < end; j++ {
			out[j] = payload[j] ^ block[j-i]
		}
		counter++
	}
	return out
}

func putCounter(a0 []byte, q int, counter uint64) {
	for i := 0; i < q; i++ {
		a0[15-i] = byte(counter >> (8 * i))
	}
}

func putLengthField(dst []byte, length uint64, q int) {
	for i := 0; i < q; i++ {
		dst[q-1-i] = byte(length >> (8 * i))
	}
}

// encodeAADLength prepends the RFC 3610 §2.2 length encoding of aad
// (2-byte form is sufficient for SMB2's small AAD) and pads to a block
// boundary.
func encodeAADLength(aad []byte) []byte {
	buf := make([]byte, 2+len(aad))
	buf[0] = byte(len(aad) >> 8)
	buf[1] = byte(len(aad))
	copy(buf[2:], aad)
	if r := len(buf) % 16; r != 0 {
		buf = append(buf, make([]byte, 16-r)...)
	}
	return buf
}

// cbcMACBlocks runs CBC-MAC (continuing from running state x) over
// data, which must already be padded to a 16-byte boundary, except the
// caller-supplied final chunk of a payload that isn't block-aligned.
func cbcMACBlocks(block cipher.Block, x, data []byte) []byte {
	for i := 0; i < len(data); i += 16 {
		end := i + 16
		var blk [16]byte
		if end > len(data) {
			copy(blk[:], data[i:])
			end = len(data)
		} else {
			copy(blk[:], data[i:end])
		}
		for j := range blk {
			blk[j] ^= x[j]
		}
		next := make([]byte, 16)
		block.Encrypt(next, blk[:])
		x = next
	}
	return x
}

func sliceForAppend(in []byte, n int) (head, tail []byte) {
	if total := len(in) + n; cap(in) >= total {
		head = in[:total]
	} else {
		head = make([]byte, total)
		copy(head, in)
	}
	tail = head[len(in):]
	return
}
