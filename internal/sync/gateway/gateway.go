// Package gateway implements the broadcast gateway (C8): the websocket
// duplex transport devices speak to the server over, with heartbeat
// liveness checks (spec §4.4, §5). A frame that still cannot be queued on a
// full outbound buffer after send's retries is dropped and counted; the
// session's lifecycle state is left unchanged.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/driftsync/syncd/internal/sync/bus"
	"github.com/driftsync/syncd/internal/sync/orchestrator"
	"github.com/driftsync/syncd/internal/sync/protocol"
	"github.com/driftsync/syncd/internal/sync/registry"
	"github.com/driftsync/syncd/internal/sync/telemetry"
	"github.com/driftsync/syncd/internal/sync/tutor"
	"github.com/driftsync/syncd/pkg/log"
	"github.com/driftsync/syncd/pkg/options"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway owns the HTTP listener accepting websocket upgrades and dispatches
// each connection to its own duplex session.
type Gateway struct {
	opts         *options.WebSocketOptions
	orchestrator *orchestrator.Orchestrator
	registry     *registry.Registry
	bus          *bus.Bus
	tutor        *tutor.Bus
}

// New builds a gateway bound to the orchestrator that actually applies
// pushed ops, the registry/bus pair that track and fan out to live
// sessions, and the independent tutor-message bus.
func New(opts *options.WebSocketOptions, orch *orchestrator.Orchestrator, reg *registry.Registry, b *bus.Bus, tb *tutor.Bus) *Gateway {
	return &Gateway{opts: opts, orchestrator: orch, registry: reg, bus: b, tutor: tb}
}

// Router returns the HTTP router exposing the websocket upgrade endpoint
// alongside health checks, in the teacher's admin-server shape.
func (g *Gateway) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.HandleFunc("/v1/sync", g.handleUpgrade)
	return r
}

func (g *Gateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("gateway: websocket upgrade failed", "error", err)
		return
	}
	sess := newConnSession(conn, g.opts, g.orchestrator, g.registry, g.bus, g.tutor)
	go sess.run(r.Context())
}

// connSession is one device's live websocket connection.
type connSession struct {
	conn         *websocket.Conn
	opts         *options.WebSocketOptions
	orchestrator *orchestrator.Orchestrator
	registry     *registry.Registry
	bus          *bus.Bus
	tutor        *tutor.Bus
	out          chan protocol.Envelope
}

func newConnSession(conn *websocket.Conn, opts *options.WebSocketOptions, orch *orchestrator.Orchestrator, reg *registry.Registry, b *bus.Bus, tb *tutor.Bus) *connSession {
	return &connSession{
		conn:         conn,
		opts:         opts,
		orchestrator: orch,
		registry:     reg,
		bus:          b,
		tutor:        tb,
		out:          make(chan protocol.Envelope, opts.OutboundBufferSize),
	}
}

func (s *connSession) run(ctx context.Context) {
	defer s.conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entry, err := s.handshake(ctx)
	if err != nil {
		log.Warn("gateway: handshake failed", "error", err)
		return
	}
	defer s.teardown(entry)

	tutorCh := s.tutor.Subscribe(entry.Session.OwnerID, entry.Session.SessionID)

	go s.writePump(ctx)
	go s.heartbeat(ctx, entry)
	go s.tutorPump(ctx, tutorCh)

	s.readPump(ctx, entry)
}

func (s *connSession) teardown(entry *registry.Entry) {
	if entry == nil {
		return
	}
	_ = entry.Fire(context.Background(), registry.EventDrain)
	_ = entry.Fire(context.Background(), registry.EventClose)
	s.bus.Unsubscribe(entry.Session.OwnerID, entry.Session.SessionID)
	s.tutor.Unsubscribe(entry.Session.OwnerID, entry.Session.SessionID)
	s.registry.Close(entry.Session.SessionID)
}

// tutorPump relays broadcast tutor messages to this connection for the
// lifetime of the session, independent of the owner-log replay state.
func (s *connSession) tutorPump(ctx context.Context, ch <-chan tutor.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			frame, err := protocol.Encode(protocol.FrameTutorMessage, protocol.TutorMessageBody{Sender: msg.Sender, Text: msg.Text})
			if err != nil {
				continue
			}
			s.send(frame)
		}
	}
}

// send enqueues a frame for the write pump, retrying briefly against a full
// outbound buffer before giving up — a dropped broadcast is still
// recoverable by the device issuing a PULL later (spec §7).
func (s *connSession) send(frame protocol.Envelope) bool {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 5 * time.Millisecond
	eb.MaxInterval = 50 * time.Millisecond
	policy := backoff.WithMaxRetries(eb, 3)
	err := backoff.Retry(func() error {
		select {
		case s.out <- frame:
			return nil
		default:
			return errOutboundBufferFull
		}
	}, policy)
	if err != nil {
		telemetry.BroadcastFailuresTotal.WithLabelValues("outbound_buffer_full").Inc()
		return false
	}
	return true
}

var errOutboundBufferFull = fmt.Errorf("gateway: outbound buffer full")

func (s *connSession) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-s.out:
			if !ok {
				return
			}
			if err := s.conn.WriteJSON(frame); err != nil {
				log.Warn("gateway: write failed", "error", err)
				return
			}
		}
	}
}

// handshake reads the device's HELLO, opens a session, and replies with
// HELLO_OK before any PUSH/PULL traffic is accepted.
func (s *connSession) handshake(ctx context.Context) (*registry.Entry, error) {
	var envelope protocol.Envelope
	if err := s.conn.ReadJSON(&envelope); err != nil {
		return nil, err
	}
	if envelope.Type != protocol.FrameHello {
		return nil, errUnexpectedFrame(protocol.FrameHello, envelope.Type)
	}
	var hello protocol.HelloBody
	if err := envelope.Decode(&hello); err != nil {
		return nil, err
	}

	entry, helloOK, err := s.orchestrator.Hello(ctx, hello.OwnerID, hello.DeviceID, hello.LastSeqSeen)
	if err != nil {
		return nil, err
	}

	if _, err := s.bus.Subscribe(hello.OwnerID, entry.Session.SessionID); err != nil {
		return nil, err
	}

	reply, err := protocol.Encode(protocol.FrameHelloOK, helloOK)
	if err != nil {
		return nil, err
	}
	if err := s.conn.WriteJSON(reply); err != nil {
		return nil, err
	}

	if err := entry.Fire(ctx, registry.EventCaughtUp); err != nil {
		return nil, err
	}
	if !helloOK.NeedsReplay {
		if err := entry.Fire(ctx, registry.EventGoLive); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// readPump handles inbound PUSH/PULL/ACK/PONG frames for the lifetime of
// the connection.
func (s *connSession) readPump(ctx context.Context, entry *registry.Entry) {
	for {
		var envelope protocol.Envelope
		if err := s.conn.ReadJSON(&envelope); err != nil {
			return
		}

		switch envelope.Type {
		case protocol.FramePush:
			s.handlePush(ctx, envelope)
		case protocol.FramePull:
			s.handlePull(ctx, entry, envelope)
		case protocol.FrameAck:
			s.handleAck(ctx, entry, envelope)
		case protocol.FrameTutorMessage:
			s.handleTutorMessage(entry, envelope)
		case protocol.FramePong:
			// liveness only; no action needed.
		default:
			errFrame, _ := protocol.Encode(protocol.FrameError, protocol.ErrorBody{
				Code:      "unrecognized_frame",
				Message:   "unrecognized frame type",
				Retryable: false,
			})
			s.send(errFrame)
		}
	}
}

func (s *connSession) handlePush(ctx context.Context, envelope protocol.Envelope) {
	var body protocol.PushBody
	if err := envelope.Decode(&body); err != nil {
		return
	}
	acks, err := s.orchestrator.PushBatch(ctx, body.Ops)
	if err != nil {
		log.Warn("gateway: push batch failed", "batch_id", body.BatchID, "error", err)
		errFrame, _ := protocol.Encode(protocol.FrameError, protocol.ErrorBody{
			Code:      "push_failed",
			Message:   "push batch could not be committed",
			Retryable: true,
		})
		s.send(errFrame)
		return
	}
	frame, err := protocol.Encode(protocol.FramePushResult, protocol.PushResultBody{
		BatchID: body.BatchID,
		Acks:    acks,
	})
	if err != nil {
		return
	}
	s.send(frame)
}

func (s *connSession) handlePull(ctx context.Context, entry *registry.Entry, envelope protocol.Envelope) {
	var body protocol.PullBody
	if err := envelope.Decode(&body); err != nil {
		return
	}
	ops, err := s.orchestrator.Pull(ctx, entry.Session.OwnerID, body.AfterSeq)
	if err != nil {
		log.Warn("gateway: pull failed", "error", err)
		return
	}
	chunk, err := protocol.Encode(protocol.FramePullChunk, protocol.PullChunkBody{Ops: ops, HasMore: false})
	if err != nil {
		return
	}
	s.send(chunk)
	if err := entry.Fire(ctx, registry.EventGoLive); err != nil {
		log.Warn("gateway: failed to go LIVE after replay", "session_id", entry.Session.SessionID, "error", err)
	}
}

func (s *connSession) handleAck(ctx context.Context, entry *registry.Entry, envelope protocol.Envelope) {
	var body protocol.AckBody
	if err := envelope.Decode(&body); err != nil {
		return
	}
	entry.Session.LastAckSeq = body.UpToSeq
	if err := s.orchestrator.Ack(ctx, entry.Session.DeviceID, body.UpToSeq); err != nil {
		log.Warn("gateway: ack failed", "error", err)
	}
}

// handleTutorMessage broadcasts an inbound tutor chat message to every
// other live session for the same owner, bypassing the merge engine and
// version store entirely.
func (s *connSession) handleTutorMessage(entry *registry.Entry, envelope protocol.Envelope) {
	var body protocol.TutorMessageBody
	if err := envelope.Decode(&body); err != nil {
		return
	}
	s.tutor.Publish(entry.Session.OwnerID, tutor.Message{
		OwnerID: entry.Session.OwnerID,
		Sender:  body.Sender,
		Text:    body.Text,
	})
}

func errUnexpectedFrame(want, got protocol.FrameType) error {
	return fmt.Errorf("gateway: expected %s frame, got %s", want, got)
}

func (s *connSession) heartbeat(ctx context.Context, entry *registry.Entry) {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping, _ := protocol.Encode(protocol.FramePing, struct{}{})
			if !s.send(ping) {
				missed++
			}
			if missed >= s.opts.MissedHeartbeatLimit {
				log.Warn("gateway: missed heartbeat limit exceeded, closing session", "session_id", entry.Session.SessionID)
				s.conn.Close()
				return
			}
		}
	}
}
