package chat

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nexmarket/realtime/logger"
	"github.com/nexmarket/realtime/tools/errs"
)

const (
	subjConvPrefix = "rt.conv."
	subjPresence   = "rt.presence"
)

// Relay carries room broadcasts and presence events between gateway
// instances over NATS. Every instance publishes what it commits locally and
// subscribes to everything; events echoed back from its own publishes are
// filtered by origin.
type Relay struct {
	nc        *nats.Conn
	gatewayID string
	subs      []*nats.Subscription
}

type relayEnvelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

type RelayConfig struct {
	Servers   []string
	Name      string
	GatewayID string
}

func NewRelay(cfg RelayConfig) (*Relay, error) {
	if len(cfg.Servers) == 0 {
		return nil, errs.New("nats servers missing")
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3 * time.Second),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errs.WrapMsg(err, "connect nats")
	}
	return &Relay{nc: nc, gatewayID: cfg.GatewayID}, nil
}

func (r *Relay) publish(subject string, payload []byte) {
	env, _ := json.Marshal(relayEnvelope{Origin: r.gatewayID, Payload: payload})
	if err := r.nc.Publish(subject, env); err != nil {
		logger.Warnf("[relay] publish %s: %v", subject, err)
	}
}

// PublishConv relays a room broadcast that has already been committed and
// fanned out locally.
func (r *Relay) PublishConv(convID string, payload []byte) {
	r.publish(subjConvPrefix+convID, payload)
}

func (r *Relay) PublishPresence(payload []byte) {
	r.publish(subjPresence, payload)
}

// Subscribe installs the inbound side. onConv receives (conversationID,
// payload) for room events from other instances; onPresence receives
// presence payloads.
func (r *Relay) Subscribe(onConv func(convID string, payload []byte), onPresence func(payload []byte)) error {
	convSub, err := r.nc.Subscribe(subjConvPrefix+">", func(m *nats.Msg) {
		var env relayEnvelope
		if json.Unmarshal(m.Data, &env) != nil || env.Origin == r.gatewayID {
			return
		}
		onConv(strings.TrimPrefix(m.Subject, subjConvPrefix), env.Payload)
	})
	if err != nil {
		return errs.WrapMsg(err, "subscribe conv relay")
	}
	presSub, err := r.nc.Subscribe(subjPresence, func(m *nats.Msg) {
		var env relayEnvelope
		if json.Unmarshal(m.Data, &env) != nil || env.Origin == r.gatewayID {
			return
		}
		onPresence(env.Payload)
	})
	if err != nil {
		return errs.WrapMsg(err, "subscribe presence relay")
	}
	r.subs = append(r.subs, convSub, presSub)
	return nil
}

func (r *Relay) Connected() bool {
	return r.nc != nil && r.nc.IsConnected()
}

func (r *Relay) Close() {
	for _, s := range r.subs {
		_ = s.Drain()
	}
	if r.nc != nil {
		_ = r.nc.Drain()
	}
}
