package helpers

import (
	"io"
)

// WriteAll repeats Write until b is consumed.
// Serial ports may accept fewer bytes than asked, zero progress is io.ErrShortWrite.
func WriteAll(w io.Writer, b []byte) (int, error) {
	total := 0
	for len(b) > 0 {
		n, err := w.Write(b)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
		b = b[n:]
	}
	return total, nil
}
