package sds011

import (
	"io"

	goserial "github.com/jacobsa/go-serial/serial"
	"github.com/juju/errors"
)

const DefaultBaud = 9600

// OpenPort opens tty in 8N1 raw mode. SDS011 only speaks 9600 baud.
func OpenPort(path string, baud int) (io.ReadWriteCloser, error) {
	if baud == 0 {
		baud = DefaultBaud
	}
	options := goserial.OpenOptions{
		PortName:        path,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		ParityMode:      goserial.PARITY_NONE,
		MinimumReadSize: 1,
	}
	port, err := goserial.Open(options)
	if err != nil {
		return nil, errors.Annotatef(err, "serial open path=%s baud=%d", path, baud)
	}
	return port, nil
}
