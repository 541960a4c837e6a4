package sds011

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/airq/helpers"
	"github.com/temoto/airq/log2"
)

func TestSensorWakeSleep(t *testing.T) {
	t.Parallel()
	port := NewMockPort(nil)
	s := NewSensor(port, log2.NewTest(t, log2.LDebug))
	require.NoError(t, s.Wake())
	require.NoError(t, s.Sleep())
	ws := port.Writes()
	require.Len(t, ws, 2)
	assert.Equal(t, helpers.MustHex(testWakeHex), ws[0])
	assert.Equal(t, helpers.MustHex(testSleepHex), ws[1])
	assert.Equal(t, 1, port.CountFrame(EncodeSleep()))
}

func TestSensorWriteError(t *testing.T) {
	t.Parallel()
	port := NewMockPort(nil)
	port.WriteErr = func(int, []byte) error { return errors.New("EIO") }
	s := NewSensor(port, log2.NewTest(t, log2.LDebug))
	err := s.Wake()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sds011 wake write")
}

func TestSensorRead(t *testing.T) {
	t.Parallel()
	type Case struct {
		name      string
		response  string
		hang      bool
		readErr   error
		timeout   time.Duration
		expect    string
		expectErr func(testing.TB, error)
	}
	cases := []Case{
		{name: "full", response: "aa c0 0a00 1400 0102 21 ab", expect: "aa c0 0a00 1400 0102 21 ab"},
		{name: "truncated", response: "aa c0 0a", expect: "aac00a", expectErr: func(t testing.TB, err error) {
			assert.Equal(t, io.ErrUnexpectedEOF, errors.Cause(err))
		}},
		{name: "nothing", response: "", expect: "", expectErr: func(t testing.TB, err error) {
			assert.Equal(t, io.EOF, errors.Cause(err))
		}},
		{name: "io-error", response: "aa", readErr: errors.New("EIO"), expect: "aa", expectErr: func(t testing.TB, err error) {
			assert.Contains(t, err.Error(), "EIO")
		}},
		{name: "timeout", response: "aa c0", hang: true, timeout: 30 * time.Millisecond, expectErr: func(t testing.TB, err error) {
			assert.True(t, errors.IsTimeout(err), "err=%v", err)
		}},
	}
	helpers.RandUnix().Shuffle(len(cases), func(i int, j int) { cases[i], cases[j] = cases[j], cases[i] })
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			port := NewMockPort(helpers.MustHex(c.response))
			port.Hang = c.hang
			port.ReadErr = c.readErr
			defer port.Close()
			s := NewSensor(port, log2.NewTest(t, log2.LDebug))
			b, err := s.Read(context.Background(), ResponseLength, c.timeout)
			if c.expectErr != nil {
				require.Error(t, err)
				c.expectErr(t, err)
			} else {
				require.NoError(t, err)
			}
			if !c.hang {
				assert.Equal(t, helpers.MustHex(c.expect), b)
			}
		})
	}
}

func TestSensorReadCanceled(t *testing.T) {
	t.Parallel()
	port := NewMockPort(nil)
	port.Hang = true
	defer port.Close()
	s := NewSensor(port, log2.NewTest(t, log2.LDebug))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Read(ctx, ResponseLength, 0)
	require.Error(t, err)
	assert.Equal(t, context.Canceled, errors.Cause(err))
}

func TestNullPort(t *testing.T) {
	t.Parallel()
	r := bytes.NewBufferString("ab")
	w := bytes.NewBuffer(nil)
	p := NewNullPort(r, w)
	_, err := p.Write([]byte("x"))
	require.NoError(t, err)
	b := make([]byte, 2)
	_, err = io.ReadFull(p, b)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(b))
	assert.Equal(t, "x", w.String())
	require.NoError(t, p.Close())
	_, err = p.Read(b)
	assert.Error(t, err)
}
