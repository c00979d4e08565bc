// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bus

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// wakeSubjectPrefix namespaces the wake-notification subjects so they
// can't collide with any other in-process NATS usage.
const wakeSubjectPrefix = "bus.wake."

// EmbeddedNotifier runs an in-process NATS server and publishes a
// zero-payload wake message on bus.wake.<recipient> after every Send, so
// a consumer can block on a subscription instead of polling PopNext.
// This is purely a latency optimization: the SQLite table remains the
// source of truth, and a consumer that misses a wake (or never
// subscribes) still sees the message on its next PopNext poll.
type EmbeddedNotifier struct {
	srv    *server.Server
	nc     *nats.Conn
	logger *slog.Logger
}

// NewEmbeddedNotifier starts an embedded NATS server bound to a random
// local port and connects a client to it.
func NewEmbeddedNotifier(logger *slog.Logger) (*EmbeddedNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      server.RANDOM_PORT,
		NoLog:     true,
		NoSigs:    true,
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("bus: starting embedded nats server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("bus: embedded nats server did not become ready")
	}

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("bus: connecting to embedded nats server: %w", err)
	}

	return &EmbeddedNotifier{srv: srv, nc: nc, logger: logger}, nil
}

// NotifyRecipient publishes a wake message for recipient. Publish
// failures are logged, never returned — a missed wake degrades to
// polling latency, not data loss.
func (n *EmbeddedNotifier) NotifyRecipient(recipient string) {
	if err := n.nc.Publish(wakeSubjectPrefix+recipient, nil); err != nil {
		n.logger.Warn("bus: publishing wake notification failed", slog.String("recipient", recipient), slog.String("error", err.Error()))
	}
}

// Subscribe returns a channel that receives a value every time recipient
// is woken. Callers should treat arrival as "go check PopNext", not as
// carrying the message itself.
func (n *EmbeddedNotifier) Subscribe(recipient string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)
	sub, err := n.nc.Subscribe(wakeSubjectPrefix+recipient, func(*nats.Msg) {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("bus: subscribing for %s: %w", recipient, err)
	}
	return ch, func() { _ = sub.Unsubscribe() }, nil
}

// Close closes the client connection and shuts down the embedded server.
func (n *EmbeddedNotifier) Close() {
	n.nc.Close()
	n.srv.Shutdown()
}
