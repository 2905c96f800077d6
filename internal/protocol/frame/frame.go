package frame

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	sha256 "github.com/minio/sha256-simd"
)

const (
	PrefixLen     = 2
	CommandLen    = 1
	NonceLen      = 4
	DigestSize    = sha256.Size
	MinBinaryLen  = CommandLen + NonceLen + DigestSize
	MaxEncodedLen = 0xFFFF
	// MaxPayloadLen is the largest payload whose base64 text still fits the length prefix.
	MaxPayloadLen = (MaxEncodedLen/4)*3 - MinBinaryLen
)

var (
	ErrFrameTooLarge   = errors.New("frame: frame too large")
	ErrShortPrefix     = errors.New("frame: short length prefix")
	ErrIncompleteFrame = errors.New("frame: incomplete frame")
	ErrBadEncoding     = errors.New("frame: invalid base64 body")
	ErrFrameTooShort   = errors.New("frame: frame too short")
	ErrIntegrity       = errors.New("frame: integrity check failed")
)

// Frame is one decoded protocol message. The digest is always derived from the
// other fields; a Frame cannot carry a digest that does not match its content.
type Frame struct {
	cmd     Command
	nonce   uint32
	payload []byte
	digest  [DigestSize]byte
}

func New(cmd Command, nonce uint32, payload []byte) Frame {
	var p []byte
	if len(payload) > 0 {
		p = make([]byte, len(payload))
		copy(p, payload)
	}
	return Frame{
		cmd:     cmd,
		nonce:   nonce,
		payload: p,
		digest:  Digest(cmd, nonce, p),
	}
}

func (f Frame) Command() Command { return f.cmd }

func (f Frame) Nonce() uint32 { return f.nonce }

// Payload returns a copy of the frame payload.
func (f Frame) Payload() []byte {
	if len(f.payload) == 0 {
		return nil
	}
	out := make([]byte, len(f.payload))
	copy(out, f.payload)
	return out
}

func (f Frame) Digest() [DigestSize]byte { return f.digest }

func (f Frame) String() string {
	return fmt.Sprintf("Frame(cmd=%s nonce=%d payload_len=%d)", f.cmd, f.nonce, len(f.payload))
}

// Digest computes SHA-256 over cmd || nonce (big-endian) || payload.
func Digest(cmd Command, nonce uint32, payload []byte) [DigestSize]byte {
	h := sha256.New()
	var head [CommandLen + NonceLen]byte
	head[0] = byte(cmd)
	binary.BigEndian.PutUint32(head[1:], nonce)
	h.Write(head[:])
	h.Write(payload)
	var out [DigestSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Encode builds the wire form: 2-byte big-endian length of the base64 text,
// followed by base64(cmd || nonce || payload || digest).
func Encode(cmd Command, nonce uint32, payload []byte) ([]byte, error) {
	return New(cmd, nonce, payload).Encode()
}

func (f Frame) Encode() ([]byte, error) {
	binLen := MinBinaryLen + len(f.payload)
	textLen := base64.StdEncoding.EncodedLen(binLen)
	if textLen > MaxEncodedLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, textLen)
	}

	bin := make([]byte, 0, binLen)
	bin = append(bin, byte(f.cmd))
	bin = binary.BigEndian.AppendUint32(bin, f.nonce)
	bin = append(bin, f.payload...)
	bin = append(bin, f.digest[:]...)

	out := make([]byte, PrefixLen+textLen)
	binary.BigEndian.PutUint16(out[:PrefixLen], uint16(textLen))
	base64.StdEncoding.Encode(out[PrefixLen:], bin)
	return out, nil
}

// Decode parses one wire frame and verifies its digest. Bytes past the declared
// length are ignored.
func Decode(b []byte) (Frame, error) {
	if len(b) < PrefixLen {
		return Frame{}, ErrShortPrefix
	}
	textLen := int(binary.BigEndian.Uint16(b[:PrefixLen]))
	if len(b)-PrefixLen < textLen {
		return Frame{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrIncompleteFrame, textLen, len(b)-PrefixLen)
	}

	text := b[PrefixLen : PrefixLen+textLen]
	bin := make([]byte, base64.StdEncoding.DecodedLen(len(text)))
	n, err := base64.StdEncoding.Decode(bin, text)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}
	bin = bin[:n]
	if len(bin) < MinBinaryLen {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(bin))
	}

	cmd := Command(bin[0])
	nonce := binary.BigEndian.Uint32(bin[CommandLen : CommandLen+NonceLen])
	payload := bin[CommandLen+NonceLen : len(bin)-DigestSize]
	received := bin[len(bin)-DigestSize:]

	f := New(cmd, nonce, payload)
	if !equalDigest(f.digest[:], received) {
		return Frame{}, ErrIntegrity
	}
	return f, nil
}

// ReadRaw reads exactly one length-prefixed frame from r and returns it with its
// prefix. Stream errors are returned as-is.
func ReadRaw(r io.Reader) ([]byte, error) {
	var prefix [PrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	textLen := int(binary.BigEndian.Uint16(prefix[:]))
	raw := make([]byte, PrefixLen+textLen)
	copy(raw, prefix[:])
	if _, err := io.ReadFull(r, raw[PrefixLen:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return raw, nil
}

func ReadFrame(r io.Reader) (Frame, error) {
	raw, err := ReadRaw(r)
	if err != nil {
		return Frame{}, err
	}
	return Decode(raw)
}

// WriteFrame encodes f and writes it in a single call. Nothing is written when
// encoding fails.
func WriteFrame(w io.Writer, f Frame) error {
	buf, err := f.Encode()
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func equalDigest(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
