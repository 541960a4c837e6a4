// Package sds011 talks to Nova Fitness SDS011 particulate matter sensor over UART.
//
// Command frame, 19 bytes:
//
//	AA B4 data[15] checksum AB
//
// Response frame, 10 bytes:
//
//	AA C0 pm25L pm25H pm10L pm10H id1 id2 checksum AB
//
// Checksum is low byte of sum of data bytes.
package sds011

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/juju/errors"
)

const (
	FrameHead byte = 0xaa
	FrameTail byte = 0xab

	CommandSet   byte = 0xb4
	ResponseData byte = 0xc0

	FrameDataLength = 15
	FrameLength     = 1 + 1 + FrameDataLength + 1 + 1

	ResponseLength = 10
	// Both concentration fields are inside first 6 bytes.
	MinReadLength = 6

	reportWorkMode byte = 0x06
	modeSet        byte = 0x01
	modeSleep      byte = 0x00
	modeWork       byte = 0x01
)

// Broadcast device id, every sensor on the line accepts the command.
var DeviceBroadcast = [2]byte{0xff, 0xff}

type Frame [FrameLength]byte

type InvalidChecksum struct {
	Received byte
	Actual   byte
}

func (self InvalidChecksum) Error() string {
	return fmt.Sprintf("sds011: invalid checksum received=%02x actual=%02x", self.Received, self.Actual)
}

// ErrShortRead is decode failure on truncated response.
type ErrShortRead struct {
	Need int
	Got  int
}

func (self ErrShortRead) Error() string {
	return fmt.Sprintf("sds011: short read need=%d got=%d", self.Need, self.Got)
}

type ErrInvalidFrame struct {
	Offset   int
	Expected byte
	Actual   byte
}

func (self ErrInvalidFrame) Error() string {
	return fmt.Sprintf("sds011: invalid frame offset=%d expected=%02x actual=%02x", self.Offset, self.Expected, self.Actual)
}

func Checksum(bs []byte) byte {
	var chk byte
	for _, b := range bs {
		chk += b
	}
	return chk
}

func NewCommand(command byte, data [FrameDataLength]byte) Frame {
	var f Frame
	f[0] = FrameHead
	f[1] = command
	copy(f[2:2+FrameDataLength], data[:])
	f[FrameLength-2] = Checksum(data[:])
	f[FrameLength-1] = FrameTail
	return f
}

func workModeCommand(mode byte) Frame {
	var data [FrameDataLength]byte
	data[0] = reportWorkMode
	data[1] = modeSet
	data[2] = mode
	data[13] = DeviceBroadcast[0]
	data[14] = DeviceBroadcast[1]
	return NewCommand(CommandSet, data)
}

// EncodeWake: AA B4 06 01 01 00.. FF FF 06 AB
func EncodeWake() Frame { return workModeCommand(modeWork) }

// EncodeSleep: AA B4 06 01 00 00.. FF FF 05 AB
func EncodeSleep() Frame { return workModeCommand(modeSleep) }

func (self Frame) Bytes() []byte { return self[:] }
func (self Frame) Command() byte { return self[1] }
func (self Frame) Data() []byte  { return self[2 : 2+FrameDataLength] }
func (self Frame) Checksum() byte {
	return self[FrameLength-2]
}

func (self Frame) Valid() error {
	if self[0] != FrameHead {
		return ErrInvalidFrame{Offset: 0, Expected: FrameHead, Actual: self[0]}
	}
	if self[FrameLength-1] != FrameTail {
		return ErrInvalidFrame{Offset: FrameLength - 1, Expected: FrameTail, Actual: self[FrameLength-1]}
	}
	if actual := Checksum(self.Data()); actual != self.Checksum() {
		return InvalidChecksum{Received: self.Checksum(), Actual: actual}
	}
	return nil
}

// Format is hex dump grouped by 4 bytes, for logs.
func (self Frame) Format() string { return FormatHex(self[:]) }

func FormatHex(b []byte) string {
	h := hex.EncodeToString(b)
	ss := make([]string, 0, len(h)/8+1)
	for len(h) > 8 {
		ss = append(ss, h[:8])
		h = h[8:]
	}
	ss = append(ss, h)
	return strings.Join(ss, " ")
}

//go:generate stringer -type=DecodeMode -trimprefix=Decode
type DecodeMode uint8

const (
	// DecodeLenient only extracts concentration fields, ignores head/tail/checksum.
	DecodeLenient DecodeMode = iota
	// DecodeStrict validates whole 10 byte response frame.
	DecodeStrict
)

func ParseDecodeMode(s string) (DecodeMode, error) {
	switch strings.ToLower(s) {
	case "", "lenient":
		return DecodeLenient, nil
	case "strict":
		return DecodeStrict, nil
	}
	return DecodeLenient, errors.NotValidf("decode mode=%q", s)
}

// RawReading holds sensor register values, tenths of µg/m³.
type RawReading struct {
	PM25Raw uint16
	PM10Raw uint16
}

func (self RawReading) PM25() float64 { return float64(self.PM25Raw) / 10 }
func (self RawReading) PM10() float64 { return float64(self.PM10Raw) / 10 }

func Decode(b []byte, mode DecodeMode) (RawReading, error) {
	switch mode {
	case DecodeLenient:
		if len(b) < MinReadLength {
			return RawReading{}, ErrShortRead{Need: MinReadLength, Got: len(b)}
		}

	case DecodeStrict:
		if len(b) < ResponseLength {
			return RawReading{}, ErrShortRead{Need: ResponseLength, Got: len(b)}
		}
		if err := validResponse(b[:ResponseLength]); err != nil {
			return RawReading{}, err
		}

	default:
		panic(fmt.Sprintf("code error sds011.Decode mode=%d", mode))
	}

	return RawReading{
		PM25Raw: binary.LittleEndian.Uint16(b[2:4]),
		PM10Raw: binary.LittleEndian.Uint16(b[4:6]),
	}, nil
}

func validResponse(b []byte) error {
	if b[0] != FrameHead {
		return ErrInvalidFrame{Offset: 0, Expected: FrameHead, Actual: b[0]}
	}
	if b[1] != ResponseData {
		return ErrInvalidFrame{Offset: 1, Expected: ResponseData, Actual: b[1]}
	}
	if b[ResponseLength-1] != FrameTail {
		return ErrInvalidFrame{Offset: ResponseLength - 1, Expected: FrameTail, Actual: b[ResponseLength-1]}
	}
	if actual := Checksum(b[2:8]); actual != b[8] {
		return InvalidChecksum{Received: b[8], Actual: actual}
	}
	return nil
}
