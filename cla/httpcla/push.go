// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package httpcla implements the HTTP push and pull convergence layers
// (C6.3/6.4): a push sender that POSTs bundles with retry backoff, an
// ingress handler feeding the processor directly, and a pull poller that
// diffs each known peer's bundle listing against an in-agent known-set.
package httpcla

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/cla"
	"github.com/dtn7/dtnagent-go/peer"
)

// DefaultMaxRetries is the push sender's default retry ceiling.
const DefaultMaxRetries = 3

// PushCLA is the HTTP push convergence layer. It can only send; an
// ingress endpoint registered elsewhere (IngressHandler) feeds the
// processor with whatever this or another node's PushCLA posts here.
type PushCLA struct {
	id         string
	maxRetries int
	client     *http.Client

	incoming chan cla.Received
}

// NewPushCLA creates a PushCLA retrying failed sends up to maxRetries
// times (0 selects DefaultMaxRetries).
func NewPushCLA(id string, maxRetries int) *PushCLA {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &PushCLA{
		id:         id,
		maxRetries: maxRetries,
		client:     &http.Client{Timeout: 30 * time.Second},
		incoming:   make(chan cla.Received),
	}
}

func (c *PushCLA) ID() string   { return "httpcla-push:" + c.id }
func (c *PushCLA) Name() string { return "httpcla-push" }

func (c *PushCLA) Start() error { return nil }
func (c *PushCLA) Stop() error  { return nil }

// SendBundle POSTs the encoded bundle to http://p.Address/push, retrying
// with exponential backoff (0.5 * attempt seconds) up to maxRetries times.
// Success is any 2xx status.
func (c *PushCLA) SendBundle(b bpv7.Bundle, p peer.Peer) error {
	data, err := bpv7.MarshalBundle(b)
	if err != nil {
		return fmt.Errorf("httpcla: marshalling bundle: %w", err)
	}

	url := fmt.Sprintf("http://%s/push", p.Address)

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(float64(500*time.Millisecond) * float64(attempt-1))
			time.Sleep(backoff)
		}

		resp, err := c.client.Post(url, "application/octet-stream", bytes.NewReader(data))
		if err != nil {
			lastErr = err
			log.WithFields(log.Fields{"cla": c.ID(), "peer": p.EID, "attempt": attempt, "error": err}).
				Warn("httpcla: push attempt failed")
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("httpcla: push to %s returned status %d", url, resp.StatusCode)
		log.WithFields(log.Fields{"cla": c.ID(), "peer": p.EID, "attempt": attempt, "status": resp.StatusCode}).
			Warn("httpcla: push attempt refused")
	}

	return fmt.Errorf("httpcla: push to %s failed after %d attempts: %w", url, c.maxRetries, lastErr)
}

func (c *PushCLA) CanReach(p peer.Peer) bool { return p.HasCLA(c.Name()) && p.Address != "" }

func (c *PushCLA) GetConnections() []cla.Connection { return nil }

func (c *PushCLA) Incoming() <-chan cla.Received { return c.incoming }

// IngressHandler is an http.HandlerFunc to be registered at "/push" by the
// management HTTP server; it decodes the POSTed bundle and feeds it
// directly into deliver.
func (c *PushCLA) IngressHandler(deliver func(b bpv7.Bundle, remoteAddr string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		b, err := bpv7.ParseBundle(data)
		if err != nil {
			log.WithFields(log.Fields{"cla": c.ID(), "remote": r.RemoteAddr, "error": err}).
				Warn("httpcla: failed to decode pushed bundle")
			http.Error(w, "failed to decode bundle", http.StatusBadRequest)
			return
		}

		deliver(b, r.RemoteAddr)
		w.WriteHeader(http.StatusAccepted)
	}
}
