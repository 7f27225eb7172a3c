// Package ws maintains exchange stream sessions: connect, authenticate,
// subscribe, and route inbound messages to registered handlers.
package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/quantfabric/paradise/errs"
	"github.com/quantfabric/paradise/internal/logging"
)

const (
	defaultIdleTimeout    = 30 * time.Second
	dialTimeout           = 10 * time.Second
	writeTimeout          = 5 * time.Second
	defaultInitialBackoff = 5 * time.Second
	defaultMaxBackoff     = 30 * time.Second

	// The exchange tolerates a handful of control frames per second; pace
	// subscribes and probes conservatively.
	controlInterval = 250 * time.Millisecond

	pingPayload = "ping"
	pongPayload = "pong"
)

// MessageHandler consumes one routed stream message. The raw topic retains
// its symbol suffix.
type MessageHandler func(ctx context.Context, topic string, data json.RawMessage) error

// Envelope is the common shape of inbound stream messages. Private
// subscription acknowledgements carry Event/Channel instead of Topic.
type Envelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Channel []string        `json:"channel"`
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// Config describes one stream session.
type Config struct {
	URL string
	// Topics are the subscription arguments sent on every (re)connect, one
	// control message each so partial failures stay observable.
	Topics []string
	// Auth, when set, supplies a control message sent before subscribing.
	Auth        func() any
	IdleTimeout time.Duration
	// InitialBackoff and MaxBackoff bound the reconnect delay. Zero values
	// select the defaults.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Session owns one stream connection for its whole lifetime: it is the only
// writer of the handle and releases it on every exit path. Run loops forever
// until the context is cancelled, reconnecting with backoff on any failure.
type Session struct {
	name string
	cfg  Config

	handlers map[string]MessageHandler

	conn   *websocket.Conn
	connMu sync.Mutex

	limiter *rate.Limiter
	metrics *sessionMetrics
	log     *logrus.Entry
}

// NewSession builds a session. Handlers are registered with Route before Run.
func NewSession(name string, cfg Config) *Session {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	return &Session{
		name:     name,
		cfg:      cfg,
		handlers: make(map[string]MessageHandler),
		limiter:  rate.NewLimiter(rate.Every(controlInterval), 1),
		metrics:  newSessionMetrics(name),
		log:      logging.Component("ws").WithField("stream", name),
	}
}

// Route registers the handler invoked for messages whose topic reduces to
// route. Unrouted messages are dropped.
func (s *Session) Route(route string, handler MessageHandler) {
	s.handlers[route] = handler
}

// Run drives the connect/subscribe/listen loop until ctx is cancelled.
// Cancellation is returned immediately; every other failure logs, sleeps the
// backoff, and reconnects with all subscriptions re-issued.
func (s *Session) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialBackoff
	bo.MaxInterval = s.cfg.MaxBackoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.runOnce(ctx, bo.Reset)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.metrics.recordReconnect(ctx)
		sleep := bo.NextBackOff()
		s.log.WithError(err).WithField("backoff", sleep.String()).Warn("stream session ended, reconnecting")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Session) runOnce(ctx context.Context, established func()) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, s.cfg.URL, nil)
	cancel()
	if err != nil {
		return errs.New("ws/"+s.name, errs.CodeNetwork, errs.WithMessage("dial "+s.cfg.URL), errs.WithCause(err))
	}
	conn.SetReadLimit(1 << 22)

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	if s.cfg.Auth != nil {
		if err := s.sendControl(ctx, s.cfg.Auth()); err != nil {
			return err
		}
	}
	for _, topic := range s.cfg.Topics {
		msg := map[string]any{"op": "subscribe", "args": []string{topic}}
		if err := s.sendControl(ctx, msg); err != nil {
			return err
		}
	}
	s.log.WithField("topics", len(s.cfg.Topics)).Info("stream subscribed")
	// The backoff ladder restarts once the session is subscribed, so a
	// long-lived connection that drops does not pay the accumulated interval.
	established()

	return s.listen(ctx, conn)
}

// listen reads until error. An idle timeout triggers one liveness probe; a
// second consecutive timeout is fatal and forces reconnect.
func (s *Session) listen(ctx context.Context, conn *websocket.Conn) error {
	probed := false
	for {
		readCtx, cancel := context.WithTimeout(ctx, s.cfg.IdleTimeout)
		msgType, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				if probed {
					return errs.New("ws/"+s.name, errs.CodeNetwork, errs.WithMessage("no traffic after liveness probe"))
				}
				probed = true
				s.metrics.recordPing(ctx)
				if err := s.sendText(ctx, pingPayload); err != nil {
					return err
				}
				continue
			}
			return errs.New("ws/"+s.name, errs.CodeNetwork, errs.WithMessage("read"), errs.WithCause(err))
		}
		probed = false
		if msgType != websocket.MessageText {
			continue
		}
		s.metrics.recordMessage(ctx, len(data))
		s.dispatch(ctx, data)
	}
}

func (s *Session) dispatch(ctx context.Context, data []byte) {
	if string(data) == pongPayload || string(data) == pingPayload {
		return
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.WithError(err).Debug("undecodable stream message dropped")
		return
	}
	if env.Event != "" || env.Success != nil {
		if env.Success != nil && !*env.Success {
			s.log.WithField("event", env.Event).Error("stream control message rejected")
		}
		return
	}
	topic := env.Topic
	if topic == "" && len(env.Channel) > 0 {
		topic = env.Channel[0]
	}
	if topic == "" {
		return
	}
	handler, ok := s.handlers[RouteTopic(topic)]
	if !ok {
		return
	}
	if err := handler(ctx, topic, env.Data); err != nil {
		s.log.WithError(err).WithField("topic", topic).Error("stream message handler failed")
	}
}

func (s *Session) sendControl(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errs.New("ws/"+s.name, errs.CodeInvalid, errs.WithMessage("encode control message"), errs.WithCause(err))
	}
	return s.sendText(ctx, string(data))
}

func (s *Session) sendText(ctx context.Context, payload string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return errs.New("ws/"+s.name, errs.CodeNetwork, errs.WithMessage("not connected"))
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, []byte(payload)); err != nil {
		return errs.New("ws/"+s.name, errs.CodeNetwork, errs.WithMessage("write control message"), errs.WithCause(err))
	}
	s.metrics.recordControl(ctx)
	return nil
}
