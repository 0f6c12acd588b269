// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

// waclientd is a minimal demo host: it wires a session.Session over the
// WebSocket transport profile to a diagnostics sidecar and waits for
// SIGINT/SIGTERM, adapted from the teacher's cmd/server/main.go.
// Building the registration/pairing payload Connect needs is out of
// scope — this binary only demonstrates the wiring.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/waconnect/waconnect-go/internal/appstate"
	"github.com/waconnect/waconnect-go/internal/diagnostics"
	"github.com/waconnect/waconnect-go/internal/session"
	"github.com/waconnect/waconnect-go/internal/store"
	"github.com/waconnect/waconnect-go/internal/transport"
	"github.com/waconnect/waconnect-go/internal/wacore"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Info("waclientd starting")

	diagAddr := os.Getenv("WACLIENTD_DIAG_ADDR")
	if diagAddr == "" {
		diagAddr = ":9191"
	}

	ws := transport.NewWebSocketTransport(transport.WebSocketConfig{Logger: sugar})

	sess := session.New(session.Config{
		Transport:   ws,
		MessageSink: store.NewMemoryMessageSink(),
		BlobStore:   store.NewMemoryBlobStore(),
		Logger:      sugar,
		Compress:    true,
		OnNewChat: func(chat *wacore.Node) {
			sugar.Infow("history sync chat", "jid", chat.AttrString("jid"))
		},
		OnHistorySyncDone: func() {
			sugar.Info("history sync finalized")
		},
	})
	sess.OnError(func(kind session.ErrorKind, cause error) {
		sugar.Warnw("session error", "kind", kind.String(), "err", cause)
	})

	diag := diagnostics.NewServer(diagnostics.Config{
		Session: sess,
		Logger:  sugar,
		Collections: []appstate.Collection{
			"regular", "regular_high", "regular_low", "critical_block", "critical_unblock_low",
		},
	})

	go func() {
		if err := diag.Listen(diagAddr); err != nil {
			sugar.Errorw("diagnostics server stopped", "err", err)
		}
	}()
	sugar.Infof("diagnostics listening at http://0.0.0.0%s", diagAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sess.Connect(ctx, nil); err != nil {
		sugar.Fatalw("connect failed", "err", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sugar.Info("shutting down")
	_ = diag.Shutdown()
	_ = sess.Close()
}
