// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

// Package session wires Transport, noise.Session, wacore's NodeCodec, and
// router.Dispatcher into the single object an application embeds,
// generalizing the teacher's monolithic Connection (internal/core/
// connection.go) into the five-stage pipeline this system is built from,
// while keeping its receive-loop/state-machine/callback idioms.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/waconnect/waconnect-go/internal/appstate"
	"github.com/waconnect/waconnect-go/internal/noise"
	"github.com/waconnect/waconnect-go/internal/router"
	"github.com/waconnect/waconnect-go/internal/signal"
	"github.com/waconnect/waconnect-go/internal/store"
	"github.com/waconnect/waconnect-go/internal/transport"
	"github.com/waconnect/waconnect-go/internal/wacore"
)

// ErrorKind classifies the failure surfaced through OnError.
type ErrorKind int

const (
	ErrorTransport ErrorKind = iota
	ErrorHandshakeFailure
	ErrorDecryptionFailure
	ErrorMacMismatch
	ErrorProtocolError
	ErrorRequestTimeout
	ErrorSessionClosed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorTransport:
		return "Transport"
	case ErrorHandshakeFailure:
		return "HandshakeFailure"
	case ErrorDecryptionFailure:
		return "DecryptionFailure"
	case ErrorMacMismatch:
		return "MacMismatch"
	case ErrorProtocolError:
		return "ProtocolError"
	case ErrorRequestTimeout:
		return "RequestTimeout"
	case ErrorSessionClosed:
		return "SessionClosed"
	default:
		return "Unknown"
	}
}

// SessionError reports a fatal session-level condition.
type SessionError struct{ Message string }

func (e *SessionError) Error() string { return e.Message }

// Config collects a Session's collaborators. Transport is required; a nil
// Logger becomes a no-op logger, and the rest default to fresh, empty in-process state so a Session
// can be constructed for tests without a KeyStore.
type Config struct {
	Transport   transport.Transport
	KeyStore    store.KeyStore
	MessageSink store.MessageSink
	BlobStore   store.BlobStore
	Logger      *zap.SugaredLogger

	// Compress controls whether outbound frames are deflated.
	Compress bool

	// QueueCapacity bounds the two serial queues; 0 picks a sane default.
	QueueCapacity int

	// OnNewChat, if set, is invoked once per conversation enumerated in a
	// history-sync chunk. Leaving it nil disables history-sync assembly
	// entirely: the dispatcher then logs and drops those notifications.
	OnNewChat router.NewChatFunc

	// OnHistorySyncDone, if set, is invoked once the history sync finalizes
	// (a companion notification arriving once the idle window since the
	// last chunk has elapsed).
	OnHistorySyncDone router.HistorySyncDoneFunc
}

// Session owns the one reader goroutine and the two per-domain serial
// queues, wiring Transport -> noise.Session -> wacore NodeCodec ->
// router.Dispatcher.
type Session struct {
	cfg   Config
	log   *zap.SugaredLogger
	noise *noise.Session

	router       *router.RequestRouter
	dispatcher   *router.Dispatcher
	signal       *signal.Store
	appstate     *appstate.Engine
	appStateSync *router.AppStateSyncer

	messageQueue  *serialQueue
	appstateQueue *serialQueue

	writeMu sync.Mutex

	mu      sync.Mutex
	connID  string
	closed  bool
	onError func(ErrorKind, error)
}

// New constructs a Session. The Noise handshake and transport-phase loop
// only start once Connect is called.
func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 64
	}
	if cfg.MessageSink == nil {
		cfg.MessageSink = store.NoopMessageSink{}
	}

	s := &Session{
		cfg:           cfg,
		log:           cfg.Logger,
		router:        router.NewRequestRouter(cfg.Logger),
		signal:        signal.NewStore(),
		appstate:      appstate.NewEngine(appstate.NewKeyRing(), cfg.Logger),
		messageQueue:  newSerialQueue(cfg.QueueCapacity),
		appstateQueue: newSerialQueue(cfg.QueueCapacity),
	}
	s.dispatcher = router.NewDispatcher(s.router, s.signal, cfg.MessageSink, s.sendAck, cfg.Logger)
	if cfg.OnNewChat != nil {
		s.dispatcher.SetHistorySync(router.NewHistorySyncAssembler(0, cfg.OnNewChat, cfg.OnHistorySyncDone))
	}
	s.appStateSync = router.NewAppStateSyncer(s.appstate, cfg.BlobStore, s.Request, cfg.Logger)
	s.dispatcher.SetAppStateSync(s.appStateSync)
	return s
}

// OnError registers the callback invoked for every classified error,
// matching the teacher's SetOnClose(func(error)) registration idiom.
func (s *Session) OnError(fn func(kind ErrorKind, cause error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

func (s *Session) emitError(kind ErrorKind, cause error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(kind, cause)
	}
}

// Connect drives the Noise XX handshake to completion and, on success,
// starts the transport-phase reader goroutine. payload is the caller-
// supplied registration bundle or resume JID to encrypt into ClientFinish
// (constructing it is the caller's responsibility).
func (s *Session) Connect(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	s.connID = uuid.New().String()
	connID := s.connID
	s.mu.Unlock()

	n, err := noise.NewSession(nil)
	if err != nil {
		return fmt.Errorf("session: new noise session: %w", err)
	}
	s.noise = n

	if err := s.cfg.Transport.Connect(ctx); err != nil {
		s.emitError(ErrorTransport, err)
		return fmt.Errorf("session: transport connect: %w", err)
	}

	hello := n.GenerateClientHello()
	if err := s.cfg.Transport.Send(ctx, hello); err != nil {
		s.emitError(ErrorTransport, err)
		return fmt.Errorf("session: send client hello: %w", err)
	}

	serverHello, err := s.cfg.Transport.Recv(ctx)
	if err != nil {
		s.emitError(ErrorTransport, err)
		return fmt.Errorf("session: recv server hello: %w", err)
	}
	if err := n.ProcessServerHello(serverHello); err != nil {
		s.emitError(ErrorHandshakeFailure, err)
		return fmt.Errorf("session: process server hello: %w", err)
	}

	clientFinish, err := n.GenerateClientFinish(payload)
	if err != nil {
		s.emitError(ErrorHandshakeFailure, err)
		return fmt.Errorf("session: generate client finish: %w", err)
	}
	if err := s.cfg.Transport.Send(ctx, clientFinish); err != nil {
		s.emitError(ErrorTransport, err)
		return fmt.Errorf("session: send client finish: %w", err)
	}

	go s.readLoop(ctx, connID)
	return nil
}

// readLoop is the single reader goroutine: Transport.Recv -> noise decrypt
// -> frame decompress -> NodeCodec decode -> route, mirroring the
// teacher's receiveLoop.
func (s *Session) readLoop(ctx context.Context, connID string) {
	for {
		if s.supersededBy(connID) {
			return
		}

		frame, err := s.cfg.Transport.Recv(ctx)
		if err != nil {
			s.emitError(ErrorTransport, err)
			s.closeAsConn(connID)
			return
		}

		plaintext, err := s.noise.DecryptFrame(frame)
		if err != nil {
			s.emitError(ErrorHandshakeFailure, err)
			s.closeAsConn(connID)
			return
		}

		nodeBytes, err := wacore.DecodeFrame(plaintext)
		if err != nil {
			s.emitError(ErrorProtocolError, err)
			continue
		}

		node, err := wacore.DecodeNode(nodeBytes)
		if err != nil {
			s.emitError(ErrorProtocolError, err)
			continue
		}
		if node == nil {
			continue
		}

		s.route(ctx, connID, node)
	}
}

// route assigns a decoded node to the message queue, the app-state queue,
// or handles it inline on the reader goroutine's two-queue design:
// iq/receipt routing is cheap and stays inline so it never waits behind a
// slow decrypt or patch apply.
func (s *Session) route(ctx context.Context, connID string, node *wacore.Node) {
	switch {
	case node.Tag == "message":
		s.messageQueue.Submit(func() {
			if s.supersededBy(connID) {
				return
			}
			if err := s.dispatcher.Dispatch(ctx, node); err != nil {
				s.emitError(ErrorDecryptionFailure, err)
			}
		})
	case isAppStateNode(node):
		s.appstateQueue.Submit(func() {
			if s.supersededBy(connID) {
				return
			}
			if err := s.dispatcher.Dispatch(ctx, node); err != nil {
				s.emitError(ErrorMacMismatch, err)
			}
		})
	default:
		if err := s.dispatcher.Dispatch(ctx, node); err != nil {
			s.emitError(ErrorProtocolError, err)
		}
	}
}

// isAppStateNode recognizes the iq/notification shapes app-state sync
// traffic takes, so patch pulls/pushes are serialized on appstateQueue
// independently from message traffic on messageQueue.
func isAppStateNode(node *wacore.Node) bool {
	if node.Tag == "notification" && node.AttrString("type") == "server_sync" {
		return true
	}
	if node.Tag != "iq" {
		return false
	}
	for _, child := range node.Children() {
		if strings.Contains(child.AttrString("xmlns"), "w:sync:app:state") {
			return true
		}
	}
	return false
}

// sendAck is handed to router.Dispatcher as its ack-emission callback.
func (s *Session) sendAck(ctx context.Context, n *wacore.Node) error {
	return s.SendNode(ctx, n)
}

// SendNode encodes, frames, and encrypts n, writing it to the transport
// under a single mutex so concurrent callers never interleave on the wire
// .
func (s *Session) SendNode(ctx context.Context, n *wacore.Node) error {
	if s.noise == nil {
		return &SessionError{Message: "session: not connected"}
	}
	framed, err := wacore.EncodeFrame(wacore.EncodeNode(n), s.cfg.Compress)
	if err != nil {
		return fmt.Errorf("session: encode frame: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	ciphertext, err := s.noise.EncryptFrame(framed)
	if err != nil {
		s.emitError(ErrorHandshakeFailure, err)
		return fmt.Errorf("session: encrypt frame: %w", err)
	}
	if err := s.cfg.Transport.Send(ctx, ciphertext); err != nil {
		s.emitError(ErrorTransport, err)
		return fmt.Errorf("session: send node: %w", err)
	}
	return nil
}

// Request sends n (stamping a fresh correlation id onto it if absent) and
// waits for the matching response, surfacing RequestTimeout through
// OnError as well as returning it. The pending entry is registered before
// the send goes out, so a reply that arrives in the window between
// writing to the transport and this function reaching its wait can never
// race ahead of registration and be dropped as unsolicited.
func (s *Session) Request(ctx context.Context, n *wacore.Node) (*wacore.Node, error) {
	id := n.AttrString("id")
	if id == "" {
		id = router.NewRequestID()
		if n.Attrs == nil {
			n.Attrs = map[string]wacore.Attr{}
		}
		n.Attrs["id"] = wacore.String(id)
	}

	wait := s.router.Register(id)

	if err := s.SendNode(ctx, n); err != nil {
		return nil, err
	}

	resp, err := wait.Wait(ctx)
	if err != nil {
		s.emitError(ErrorRequestTimeout, err)
		return nil, err
	}
	return resp, nil
}

// AppState exposes the app-state engine for callers building/applying
// patches outside the inbound node pipeline.
func (s *Session) AppState() *appstate.Engine { return s.appstate }

// AppStateSync exposes the pull/push orchestrator for callers that want to
// force a sync (e.g. on startup) rather than waiting for a server_sync
// notification to trigger one.
func (s *Session) AppStateSync() *router.AppStateSyncer { return s.appStateSync }

// SendMessage discovers every companion device behind each recipient JID,
// encrypts plaintext once per device session, and sends the resulting
// fan-out as a single <message> stanza per recipient.
func (s *Session) SendMessage(ctx context.Context, recipients []string, plaintext []byte) error {
	devicesByUser, err := router.DiscoverDevices(ctx, s.Request, recipients)
	if err != nil {
		return err
	}

	for _, to := range recipients {
		devices := devicesByUser[to]
		if len(devices) == 0 {
			devices = []string{to}
		}
		msg, err := router.BuildSend(s.signal, router.NewRequestID(), to, devices, plaintext)
		if err != nil {
			return fmt.Errorf("session: build send to %s: %w", to, err)
		}
		if err := s.SendNode(ctx, msg); err != nil {
			return fmt.Errorf("session: send to %s: %w", to, err)
		}
	}
	return nil
}

// Dispatcher exposes the dispatcher, primarily for tests driving it
// directly without a live transport.
func (s *Session) Dispatcher() *router.Dispatcher { return s.dispatcher }

// Router exposes the request router, primarily so diagnostics can report
// RequestRouter.PendingCount() without importing session back into it.
func (s *Session) Router() *router.RequestRouter { return s.router }

func (s *Session) supersededBy(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || s.connID != connID
}

func (s *Session) closeAsConn(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connID == connID {
		s.closed = true
	}
}

// Close transitions the session to closed: the reader goroutine exits on
// its next iteration and queued jobs from this connection are skipped.
// Pending Requests are not cancelled by Close: each one ends with its own
// timeout or context error.
func (s *Session) Close() error {
	s.mu.Lock()
	wasClosed := s.closed
	s.closed = true
	s.mu.Unlock()
	if wasClosed {
		return nil
	}

	if s.noise != nil {
		s.noise.Close()
	}
	s.messageQueue.Close()
	s.appstateQueue.Close()
	s.emitError(ErrorSessionClosed, &SessionError{Message: "session closed"})
	return s.cfg.Transport.Close()
}
