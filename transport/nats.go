package transport

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/medmatrix/console/types"
)

// DefaultSubjectPrefix is the subject the backend publishes step events
// on; the operator session id is appended as the final token.
const DefaultSubjectPrefix = "console.task.step"

// NATSTransport subscribes to the backend's step-event subject for one
// operator session and forwards decoded events.
type NATSTransport struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	ch     chan types.StepEvent
	errs   chan error
	logger *slog.Logger
	once   sync.Once
}

// NATSOptions configures DialNATS.
type NATSOptions struct {
	URL           string
	SubjectPrefix string
	SessionID     string
	Buffer        int
	Logger        *slog.Logger
}

// DialNATS connects to the NATS server and subscribes to step events for
// the given session. Disconnects are surfaced on Errs; the NATS client's
// own reconnect handling brings the subscription back when it can.
func DialNATS(opts NATSOptions) (*NATSTransport, error) {
	if opts.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = DefaultSubjectPrefix
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &NATSTransport{
		ch:     make(chan types.StepEvent, opts.Buffer),
		errs:   make(chan error, 4),
		logger: logger,
	}

	conn, err := nats.Connect(opts.URL,
		nats.Name("medmatrix-console"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				t.fail("disconnect", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, &Error{Op: "connect", Err: err}
	}
	t.conn = conn

	subject := fmt.Sprintf("%s.%s", opts.SubjectPrefix, opts.SessionID)
	sub, err := conn.Subscribe(subject, t.handle)
	if err != nil {
		conn.Close()
		return nil, &Error{Op: "subscribe", Err: err}
	}
	t.sub = sub

	logger.Debug("subscribed to step events", slog.String("subject", subject))
	return t, nil
}

// handle decodes one inbound message. Undecodable messages are reported
// and dropped; events are dropped with a warning when the consumer falls
// behind, keeping the subscription callback from blocking the NATS
// client.
func (t *NATSTransport) handle(msg *nats.Msg) {
	ev, err := ParseStepEvent(msg.Data)
	if err != nil {
		t.fail("decode", err)
		return
	}
	select {
	case t.ch <- ev:
	default:
		t.logger.Warn("step event dropped, consumer too slow", slog.String("node", ev.Node))
	}
}

func (t *NATSTransport) fail(op string, err error) {
	select {
	case t.errs <- &Error{Op: op, Err: err}:
	default:
	}
}

// Events implements Transport.
func (t *NATSTransport) Events() <-chan types.StepEvent { return t.ch }

// Errs implements Transport.
func (t *NATSTransport) Errs() <-chan error { return t.errs }

// Close unsubscribes and tears the connection down. Safe to call more
// than once; only the first call does the work.
func (t *NATSTransport) Close() error {
	var err error
	t.once.Do(func() {
		if t.sub != nil {
			if subErr := t.sub.Unsubscribe(); subErr != nil && !t.conn.IsClosed() {
				err = &Error{Op: "unsubscribe", Err: subErr}
			}
		}
		t.conn.Close()
		close(t.ch)
	})
	return err
}
