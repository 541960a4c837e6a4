package bridge

import (
	"context"
	"crypto"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/juju/errors"
	"github.com/temoto/airq/internal/credential"
	"github.com/temoto/airq/internal/measure"
	"github.com/temoto/airq/log2"
)

// JWTAuth accepts device clients of projectID whose password is a valid token for audience projectID.
func JWTAuth(publicKey crypto.PublicKey, projectID string, log *log2.Log, now func() time.Time) ConnectFunc {
	if now == nil {
		now = time.Now
	}
	prefix := fmt.Sprintf("projects/%s/locations/", projectID)
	return func(ctx context.Context, pkt *packet.Connect) (bool, error) {
		if !strings.HasPrefix(pkt.ClientID, prefix) || !strings.Contains(pkt.ClientID, "/devices/") {
			log.Infof("bridge auth reject clientid=%s", pkt.ClientID)
			return false, nil
		}
		cred, err := credential.Verify(pkt.Password, publicKey, projectID, now())
		if err != nil {
			log.Infof("bridge auth reject clientid=%s err=%v", pkt.ClientID, err)
			return false, nil
		}
		log.Debugf("bridge auth ok clientid=%s %s", pkt.ClientID, cred.String())
		return true, nil
	}
}

type Message struct {
	ClientID string
	Topic    string
	QOS      byte
	Payload  []byte
}

// Recorder keeps published messages, optionally rejecting payloads that are not measurements.
type Recorder struct {
	Log          *log2.Log
	Strict       bool
	C            chan Message
	mu           sync.Mutex
	measurements []measure.Measurement
}

func NewRecorder(log *log2.Log, strict bool) *Recorder {
	return &Recorder{Log: log, Strict: strict, C: make(chan Message, 32)}
}

func (r *Recorder) OnPublish(ctx context.Context, clientID string, msg *packet.Message) error {
	m, err := measure.Deserialize(msg.Payload)
	if err != nil {
		if r.Strict {
			return errors.Annotatef(err, "topic=%s", msg.Topic)
		}
		r.Log.Infof("bridge client=%s topic=%s payload=%q", clientID, msg.Topic, msg.Payload)
	} else {
		r.Log.Infof("bridge client=%s topic=%s %s", clientID, msg.Topic, m.String())
		r.mu.Lock()
		r.measurements = append(r.measurements, m)
		r.mu.Unlock()
	}
	out := Message{ClientID: clientID, Topic: msg.Topic, QOS: byte(msg.QOS), Payload: append([]byte(nil), msg.Payload...)}
	select {
	case r.C <- out:
	default:
		r.Log.Debugf("bridge recorder channel full, drop topic=%s", msg.Topic)
	}
	return nil
}

func (r *Recorder) Measurements() []measure.Measurement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]measure.Measurement(nil), r.measurements...)
}
