package bridge

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
)

// Framing selects the wire variant, set once per listener at startup.
type Framing int

const (
	FramingJSON Framing = iota
	FramingBinary
)

// FrameReader reads one logical message at a time off the wire, returning
// its raw bytes for the caller to JSON-decode. It hides the two framings
// (newline-delimited vs length-prefixed) behind one interface.
type FrameReader interface {
	ReadFrame() ([]byte, error)
}

// FrameWriter writes one logical message using the connection's framing.
type FrameWriter interface {
	WriteFrame([]byte) error
}

type jsonLinesReader struct {
	r *bufio.Reader
}

// NewJSONLinesReader wraps r for newline-delimited JSON framing.
func NewJSONLinesReader(r io.Reader) FrameReader {
	return &jsonLinesReader{r: bufio.NewReaderSize(r, 4096)}
}

func (j *jsonLinesReader) ReadFrame() ([]byte, error) {
	line, err := j.r.ReadBytes('\n')
	if len(line) > MaxFrameBytes {
		return nil, ErrOversizedFrame
	}
	if err != nil && len(line) == 0 {
		return nil, err
	}
	return trimNewline(line), nil
}

func trimNewline(b []byte) []byte {
	n := len(b)
	for n > 0 && (b[n-1] == '\n' || b[n-1] == '\r') {
		n--
	}
	return b[:n]
}

type jsonLinesWriter struct {
	w io.Writer
}

// NewJSONLinesWriter wraps w for newline-delimited JSON framing.
func NewJSONLinesWriter(w io.Writer) FrameWriter {
	return &jsonLinesWriter{w: w}
}

func (j *jsonLinesWriter) WriteFrame(payload []byte) error {
	if _, err := j.w.Write(payload); err != nil {
		return err
	}
	_, err := j.w.Write([]byte{'\n'})
	return err
}

type binaryReader struct {
	r io.Reader
}

// NewBinaryReader wraps r for 4-byte-big-endian length-prefixed framing.
func NewBinaryReader(r io.Reader) FrameReader {
	return &binaryReader{r: r}
}

func (b *binaryReader) ReadFrame() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(b.r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameBytes {
		return nil, ErrOversizedFrame
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(b.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

type binaryWriter struct {
	w io.Writer
}

// NewBinaryWriter wraps w for 4-byte-big-endian length-prefixed framing.
func NewBinaryWriter(w io.Writer) FrameWriter {
	return &binaryWriter{w: w}
}

func (b *binaryWriter) WriteFrame(payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := b.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := b.w.Write(payload)
	return err
}

// NewFrameReader selects a reader by Framing.
func NewFrameReader(f Framing, r io.Reader) FrameReader {
	if f == FramingBinary {
		return NewBinaryReader(r)
	}
	return NewJSONLinesReader(r)
}

// NewFrameWriter selects a writer by Framing.
func NewFrameWriter(f Framing, w io.Writer) FrameWriter {
	if f == FramingBinary {
		return NewBinaryWriter(w)
	}
	return NewJSONLinesWriter(w)
}

// sniffType reports the envelope's type/version without fully decoding the
// concrete message.
func sniffType(raw []byte) (envelope, error) {
	var e envelope
	err := json.Unmarshal(raw, &e)
	return e, err
}
