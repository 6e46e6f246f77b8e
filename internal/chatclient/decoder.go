package chatclient

import (
	"errors"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decoder turns a byte stream delivered in arbitrary chunks into UTF-8 text.
// A multi-byte character split across chunks is held back until the rest of
// it arrives instead of being replaced with U+FFFD.
type Decoder struct {
	dec     *encoding.Decoder
	pending []byte
	buf     []byte
}

func NewDecoder() *Decoder {
	return &Decoder{
		dec: unicode.UTF8.NewDecoder(),
		buf: make([]byte, 4096),
	}
}

// Feed decodes as much of p (plus any bytes held back from earlier calls) as
// forms complete characters.
func (d *Decoder) Feed(p []byte) string {
	d.pending = append(d.pending, p...)
	return d.drain(false)
}

// Finish flushes held-back bytes; an incomplete trailing sequence becomes
// U+FFFD. The decoder is reset and can be reused afterwards.
func (d *Decoder) Finish() string {
	s := d.drain(true)
	d.pending = d.pending[:0]
	d.dec.Reset()
	return s
}

func (d *Decoder) drain(atEOF bool) string {
	var out strings.Builder
	for len(d.pending) > 0 {
		nDst, nSrc, err := d.dec.Transform(d.buf, d.pending, atEOF)
		out.Write(d.buf[:nDst])
		d.pending = append(d.pending[:0], d.pending[nSrc:]...)
		if errors.Is(err, transform.ErrShortDst) {
			continue
		}
		break
	}
	return out.String()
}
