package stream

import (
	"strings"
	"unicode/utf8"
)

// textDecoder converts byte chunks to text, holding back an incomplete
// trailing UTF-8 sequence until the next chunk completes it.
type textDecoder struct {
	pending []byte
}

func (d *textDecoder) decode(data []byte) string {
	buf := make([]byte, 0, len(d.pending)+len(data))
	buf = append(buf, d.pending...)
	buf = append(buf, data...)
	d.pending = nil

	cut := len(buf)
	for i := len(buf) - 1; i >= 0 && i >= len(buf)-utf8.UTFMax; i-- {
		if utf8.RuneStart(buf[i]) {
			if !utf8.FullRune(buf[i:]) {
				cut = i
			}
			break
		}
	}

	if cut < len(buf) {
		d.pending = append([]byte(nil), buf[cut:]...)
	}
	return strings.ToValidUTF8(string(buf[:cut]), string(utf8.RuneError))
}
