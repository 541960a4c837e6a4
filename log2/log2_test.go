package log2

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFilter(t *testing.T) {
	t.Parallel()
	buf := bytes.NewBuffer(nil)
	l := NewWriter(buf, LInfo)
	l.SetFlags(0)
	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.Errorf("bad %s", "thing")
	assert.Equal(t, "shown 2\nerror: bad thing\n", buf.String())

	buf.Reset()
	l.SetLevel(LDebug)
	l.Debug("now visible")
	assert.Equal(t, "debug: now visible\n", buf.String())
}

func TestNilSafe(t *testing.T) {
	t.Parallel()
	var l *Log
	assert.False(t, l.Enabled(LError))
	l.Infof("must not panic")
	l.SetLevel(LDebug)
	assert.Nil(t, l.Clone(LInfo))
}

func TestPahoLogger(t *testing.T) {
	t.Parallel()
	buf := bytes.NewBuffer(nil)
	l := NewWriter(buf, LInfo)
	l.SetFlags(0)
	l.Println("[client]", " connect")
	l.Printf("[%s] ping", "pinger")
	assert.Equal(t, "[client] connect\n[pinger] ping\n", buf.String())
}

func TestConcurrentSetLevel(t *testing.T) {
	t.Parallel()
	l := NewWriter(bytes.NewBuffer(nil), LError)
	wg := sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.SetLevel(Level(i % 3))
			_ = l.Enabled(LDebug)
		}(i)
	}
	wg.Wait()
}
