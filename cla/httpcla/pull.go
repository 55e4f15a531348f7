// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package httpcla

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/cla"
	"github.com/dtn7/dtnagent-go/peer"
)

// DefaultPollInterval is the pull poller's default cadence.
const DefaultPollInterval = 30 * time.Second

type statusBundlesResponse struct {
	Bundles []string `json:"bundles"`
}

// PullCLA periodically polls each known peer's bundle listing and
// downloads bundles not yet seen. It cannot send.
type PullCLA struct {
	id           string
	pollInterval time.Duration
	client       *http.Client
	peers        func() []peer.Peer

	mu    sync.Mutex
	known map[string]map[string]bool // peer address -> known bundle ids

	incoming chan cla.Received

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPullCLA creates a PullCLA polling peers returned by peersFn every
// pollInterval (0 selects DefaultPollInterval).
func NewPullCLA(id string, pollInterval time.Duration, peersFn func() []peer.Peer) *PullCLA {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &PullCLA{
		id:           id,
		pollInterval: pollInterval,
		client:       &http.Client{Timeout: 10 * time.Second},
		peers:        peersFn,
		known:        make(map[string]map[string]bool),
		incoming:     make(chan cla.Received, 64),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

func (c *PullCLA) ID() string   { return "httpcla-pull:" + c.id }
func (c *PullCLA) Name() string { return "httpcla-pull" }

func (c *PullCLA) Start() error {
	go c.pollLoop()
	return nil
}

func (c *PullCLA) pollLoop() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			for _, p := range c.peers() {
				if p.HasCLA(c.Name()) {
					c.pollPeer(p)
				}
			}
		}
	}
}

func (c *PullCLA) pollPeer(p peer.Peer) {
	listURL := fmt.Sprintf("http://%s/status/bundles", p.Address)
	resp, err := c.client.Get(listURL)
	if err != nil {
		log.WithFields(log.Fields{"cla": c.ID(), "peer": p.EID, "error": err}).Warn("httpcla: polling peer failed")
		return
	}
	defer resp.Body.Close()

	var listing statusBundlesResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		log.WithFields(log.Fields{"cla": c.ID(), "peer": p.EID, "error": err}).Warn("httpcla: decoding bundle listing failed")
		return
	}

	c.mu.Lock()
	known, ok := c.known[p.Address]
	if !ok {
		known = make(map[string]bool)
		c.known[p.Address] = known
	}
	c.mu.Unlock()

	for _, id := range listing.Bundles {
		c.mu.Lock()
		seen := known[id]
		c.mu.Unlock()
		if seen {
			continue
		}
		c.downloadBundle(p, id, known)
	}
}

func (c *PullCLA) downloadBundle(p peer.Peer, id string, known map[string]bool) {
	downloadURL := fmt.Sprintf("http://%s/download?bundle=%s", p.Address, id)
	resp, err := c.client.Get(downloadURL)
	if err != nil {
		log.WithFields(log.Fields{"cla": c.ID(), "peer": p.EID, "bundle": id, "error": err}).Warn("httpcla: download failed")
		return
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithFields(log.Fields{"cla": c.ID(), "peer": p.EID, "bundle": id, "error": err}).Warn("httpcla: reading download body failed")
		return
	}

	b, err := bpv7.ParseBundle(data)
	if err != nil {
		log.WithFields(log.Fields{"cla": c.ID(), "peer": p.EID, "bundle": id, "error": err}).Warn("httpcla: decoding downloaded bundle failed")
		return
	}

	c.mu.Lock()
	known[id] = true
	c.mu.Unlock()

	c.incoming <- cla.Received{
		Bundle: b,
		Connection: cla.Connection{
			ID:            "pull-" + p.Address,
			RemoteEID:     p.EID,
			RemoteAddress: p.Address,
			CLAType:       c.Name(),
			EstablishedAt: time.Now(),
		},
	}
}

func (c *PullCLA) SendBundle(b bpv7.Bundle, p peer.Peer) error {
	return fmt.Errorf("httpcla: pull CLA does not support sending")
}

func (c *PullCLA) CanReach(p peer.Peer) bool { return false }

func (c *PullCLA) GetConnections() []cla.Connection { return nil }

func (c *PullCLA) Incoming() <-chan cla.Received { return c.incoming }

func (c *PullCLA) Stop() error {
	close(c.stopCh)
	<-c.doneCh
	return nil
}
