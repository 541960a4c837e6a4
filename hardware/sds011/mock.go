package sds011

// Public API to easy create sensor stubs to test your code.
import (
	"bytes"
	"io"
	"sync"

	"github.com/juju/errors"
)

// MockPort serves scripted response bytes and records every Write call.
// After response is exhausted Read returns ReadErr (io.EOF by default)
// or blocks until Close when Hang is set.
type MockPort struct {
	mu      sync.Mutex
	r       *bytes.Reader
	writes  [][]byte
	closed  chan struct{}
	once    sync.Once
	Hang    bool
	ReadErr error
	// WriteErr is consulted for every Write with 0-based call index.
	WriteErr func(i int, p []byte) error
}

func NewMockPort(response []byte) *MockPort {
	return &MockPort{
		r:      bytes.NewReader(response),
		closed: make(chan struct{}),
	}
}

func (self *MockPort) Read(p []byte) (int, error) {
	self.mu.Lock()
	if self.r.Len() > 0 {
		n, err := self.r.Read(p)
		self.mu.Unlock()
		return n, err
	}
	hang, readErr := self.Hang, self.ReadErr
	self.mu.Unlock()

	if hang {
		<-self.closed
		return 0, io.ErrClosedPipe
	}
	if readErr != nil {
		return 0, readErr
	}
	return 0, io.EOF
}

func (self *MockPort) Write(p []byte) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	i := len(self.writes)
	b := append([]byte(nil), p...)
	self.writes = append(self.writes, b)
	if self.WriteErr != nil {
		if err := self.WriteErr(i, b); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (self *MockPort) Close() error {
	self.once.Do(func() { close(self.closed) })
	return nil
}

// Writes returns copy of every recorded Write.
func (self *MockPort) Writes() [][]byte {
	self.mu.Lock()
	defer self.mu.Unlock()
	ws := make([][]byte, len(self.writes))
	copy(ws, self.writes)
	return ws
}

// CountFrame returns how many recorded writes were exactly f.
func (self *MockPort) CountFrame(f Frame) int {
	count := 0
	for _, w := range self.Writes() {
		if bytes.Equal(w, f.Bytes()) {
			count++
		}
	}
	return count
}

// NullPort glues reader and writer, like a loopback serial line.
type NullPort struct {
	r io.Reader
	w io.Writer
}

func NewNullPort(r io.Reader, w io.Writer) *NullPort { return &NullPort{r: r, w: w} }

func (self *NullPort) Read(p []byte) (int, error) {
	if self.r == nil {
		return 0, errors.New("sds011 NullPort: closed")
	}
	return self.r.Read(p)
}

func (self *NullPort) Write(p []byte) (int, error) {
	if self.w == nil {
		return 0, errors.New("sds011 NullPort: closed")
	}
	return self.w.Write(p)
}

func (self *NullPort) Close() error {
	self.r = nil
	self.w = nil
	return nil
}
