// Package bridge is a minimal MQTT bridge emulator: JWT password auth on CONNECT,
// QoS 0/1 PUBLISH from devices, no subscriptions or fan-out.
// Used for local development (airq bridge) and session integration tests.
package bridge

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/temoto/airq/helpers"
	"github.com/temoto/airq/log2"
	"github.com/temoto/alive/v2"
)

const (
	defaultReadLimit      = 1 << 20
	DefaultNetworkTimeout = 30 * time.Second
)

var (
	ErrSameClient = fmt.Errorf("clientid overtake")
	ErrClosing    = fmt.Errorf("bridge is closing")
)

// ConnectFunc decides CONNECT. (false, nil) means NotAuthorized reply.
type ConnectFunc = func(ctx context.Context, pkt *packet.Connect) (bool, error)

// MessageFunc error withholds PUBACK, device sees publish timeout.
type MessageFunc = func(ctx context.Context, clientID string, msg *packet.Message) error

type Options struct {
	Log            *log2.Log
	URL            string // tcp://host:port or tls://host:port
	TLS            *tls.Config
	NetworkTimeout time.Duration
	ReadLimit      int64
	OnConnect      ConnectFunc
	OnPublish      MessageFunc
}

type Bridge struct {
	alive *alive.Alive
	ctx   context.Context
	log   *log2.Log
	opt   Options

	mu    sync.Mutex
	ns    *transport.NetServer
	conns map[string]transport.Conn
}

func New(opt Options) *Bridge {
	if opt.OnPublish == nil {
		panic("code error bridge.Options.OnPublish is mandatory")
	}
	if opt.OnConnect == nil {
		opt.OnConnect = denyAll
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.ReadLimit == 0 {
		opt.ReadLimit = defaultReadLimit
	}
	return &Bridge{
		alive: alive.NewAlive(),
		log:   opt.Log,
		opt:   opt,
		conns: make(map[string]transport.Conn),
	}
}

func (b *Bridge) Listen(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ns != nil {
		return errors.Errorf("code error bridge Listen twice")
	}
	b.ctx = ctx
	ns, err := listen(b.opt.URL, b.opt.TLS)
	if err != nil {
		return errors.Annotatef(err, "bridge listen url=%s", b.opt.URL)
	}
	if !b.alive.Add(1) {
		_ = ns.Close()
		return errors.Errorf("Listen after Close")
	}
	b.ns = ns
	b.log.Debugf("bridge listen addr=%s timeout=%v", ns.Addr(), b.opt.NetworkTimeout)
	go b.acceptLoop(ns)
	return nil
}

// Addr is host:port actually listened, useful with port 0.
func (b *Bridge) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ns == nil {
		return ""
	}
	return b.ns.Addr().String()
}

func (b *Bridge) Close() error {
	b.alive.Stop()
	errs := make([]error, 0)
	b.mu.Lock()
	if b.ns != nil {
		if err := b.ns.Close(); err != nil && !isClosedConn(err) {
			errs = append(errs, err)
		}
	}
	for id, conn := range b.conns {
		_ = conn.Close()
		delete(b.conns, id)
	}
	b.mu.Unlock()
	b.alive.Wait()
	return helpers.FoldErrors(errs)
}

func listen(rawurl string, tlsconf *tls.Config) (*transport.NetServer, error) {
	u, err := url.ParseRequestURI(rawurl)
	if err != nil {
		return nil, errors.Annotate(err, "parse url")
	}
	switch u.Scheme {
	case "tls", "ssl":
		ns, err := transport.CreateSecureNetServer(u.Host, tlsconf)
		return ns, errors.Annotate(err, "CreateSecureNetServer")

	case "tcp":
		l, err := net.Listen(u.Scheme, u.Host)
		if err != nil {
			return nil, errors.Annotatef(err, "net.Listen address=%s", u.Host)
		}
		return transport.NewNetServer(l), nil
	}
	return nil, errors.NotSupportedf("listen scheme=%s", u.Scheme)
}

func (b *Bridge) acceptLoop(ns *transport.NetServer) {
	defer b.alive.Done()
	for {
		conn, err := ns.Accept()
		if !b.alive.IsRunning() {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			b.log.Errorf("bridge accept err=%v", err)
			b.alive.Stop()
			return
		}
		if !b.alive.Add(1) {
			_ = conn.Close()
			return
		}
		go b.processConn(conn)
	}
}

func (b *Bridge) processConn(conn transport.Conn) {
	defer b.alive.Done()
	defer conn.Close()

	addr := addrString(conn.RemoteAddr())
	conn.SetMaxWriteDelay(0)
	conn.SetReadLimit(b.opt.ReadLimit)
	conn.SetReadTimeout(b.opt.NetworkTimeout)
	id, err := b.onAccept(conn)
	if err != nil {
		b.log.Infof("bridge onAccept addr=%s err=%v", addr, err)
		return
	}
	b.track(id, conn)
	defer b.untrack(id, conn)

	for {
		pkt, err := conn.Receive()
		if err != nil {
			if err != io.EOF && b.alive.IsRunning() && !isClosedConn(err) {
				b.log.Infof("bridge recv client=%s err=%v", id, err)
			}
			return
		}
		b.log.Debugf("bridge recv client=%s pkt=%s", id, PacketString(pkt))
		done, err := b.processPacket(id, conn, pkt)
		if err != nil {
			b.log.Errorf("bridge client=%s err=%v", id, err)
			return
		}
		if done {
			return
		}
	}
}

func (b *Bridge) onAccept(conn transport.Conn) (string, error) {
	pkt, err := conn.Receive()
	if err != nil {
		return "", errors.Trace(err)
	}
	pktConnect, ok := pkt.(*packet.Connect)
	if !ok {
		return "", errors.Errorf("expected CONNECT pkt=%s", PacketString(pkt))
	}

	connack := packet.NewConnack()
	if pktConnect.ClientID == "" {
		connack.ReturnCode = packet.IdentifierRejected
		_ = conn.Send(connack, false)
		return "", errors.Errorf("empty clientid")
	}
	ok, err = b.opt.OnConnect(b.ctx, pktConnect)
	if err != nil || !ok {
		connack.ReturnCode = packet.NotAuthorized
		_ = conn.Send(connack, false)
		if err == nil {
			err = errors.Errorf("not authorized")
		}
		return "", errors.Annotatef(err, "client=%s", pktConnect.ClientID)
	}
	b.log.Debugf("bridge CONNECT client=%s keepalive=%d", pktConnect.ClientID, pktConnect.KeepAlive)

	keepalive := keepaliveAndHalf(pktConnect.KeepAlive)
	if keepalive == 0 || keepalive > b.opt.NetworkTimeout {
		keepalive = b.opt.NetworkTimeout
	}
	conn.SetReadTimeout(keepalive)
	connack.ReturnCode = packet.ConnectionAccepted
	if err = conn.Send(connack, false); err != nil {
		return "", errors.Trace(err)
	}
	return pktConnect.ClientID, nil
}

func (b *Bridge) processPacket(id string, conn transport.Conn, pkt packet.Generic) (bool, error) {
	switch pt := pkt.(type) {
	case *packet.Pingreq:
		return false, conn.Send(packet.NewPingresp(), false)

	case *packet.Publish:
		if pt.Message.QOS > packet.QOSAtLeastOnce {
			return true, errors.NotSupportedf("qos=%d", pt.Message.QOS)
		}
		if err := b.opt.OnPublish(b.ctx, id, &pt.Message); err != nil {
			b.log.Errorf("bridge onPublish client=%s msg=%s err=%v", id, MessageString(&pt.Message), err)
			return false, nil
		}
		if pt.Message.QOS == packet.QOSAtLeastOnce {
			puback := packet.NewPuback()
			puback.ID = pt.ID
			return false, conn.Send(puback, false)
		}
		return false, nil

	case *packet.Subscribe:
		suback := packet.NewSuback()
		suback.ID = pt.ID
		suback.ReturnCodes = make([]packet.QOS, len(pt.Subscriptions))
		for i := range suback.ReturnCodes {
			suback.ReturnCodes[i] = packet.QOSFailure
		}
		return false, conn.Send(suback, false)

	case *packet.Disconnect:
		return true, nil
	}
	return true, errors.Errorf("unexpected pkt=%s", PacketString(pkt))
}

func (b *Bridge) track(id string, conn transport.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ex, ok := b.conns[id]; ok {
		b.log.Infof("bridge client overtake id=%s ex=%s new=%s", id, addrString(ex.RemoteAddr()), addrString(conn.RemoteAddr()))
		_ = ex.Close()
	}
	b.conns[id] = conn
}

func (b *Bridge) untrack(id string, conn transport.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conns[id] == conn {
		delete(b.conns, id)
	}
}

func denyAll(ctx context.Context, pkt *packet.Connect) (bool, error) {
	return false, fmt.Errorf("default connect callback is deny-all, please supply Options.OnConnect")
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func isClosedConn(e error) bool {
	return e != nil && strings.HasSuffix(e.Error(), "use of closed network connection")
}

func keepaliveAndHalf(sec uint16) time.Duration {
	d := time.Duration(sec) * time.Second
	return d + d/2
}

func PacketString(p packet.Generic) string {
	if p == nil {
		return "(nil)"
	}
	if pub, ok := p.(*packet.Publish); ok {
		return fmt.Sprintf("<Publish ID=%d Dup=%t %s>", pub.ID, pub.Dup, MessageString(&pub.Message))
	}
	return p.String()
}

func MessageString(m *packet.Message) string {
	if m == nil {
		return "message=nil"
	}
	return fmt.Sprintf("Topic=%q QOS=%d Payload=%x", m.Topic, m.QOS, m.Payload)
}
