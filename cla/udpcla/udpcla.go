// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package udpcla implements the UDP convergence layer (C6.2): one
// datagram holds one encoded bundle, up to a configured maximum size; no
// acknowledgement, no retry, and no peer identity in the frame itself
// (the receiver stamps a synthetic Connection id from the source
// address).
package udpcla

import (
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/cla"
	"github.com/dtn7/dtnagent-go/peer"
)

// MaxBundleSize is the protocol ceiling: one UDP datagram is at most 65535
// bytes.
const MaxBundleSize = 65535

// BundleTooLarge is returned by SendBundle when the encoded bundle
// exceeds maxBundleSize.
type BundleTooLarge struct {
	Size, Max int
}

func (e BundleTooLarge) Error() string {
	return fmt.Sprintf("udpcla: encoded bundle is %d bytes, exceeds max %d", e.Size, e.Max)
}

// CLA is the UDP convergence-layer adapter.
type CLA struct {
	listenAddr    string
	maxBundleSize int

	conn *net.UDPConn

	incoming chan cla.Received

	mu    sync.Mutex
	seen  map[string]cla.Connection // keyed by source address

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCLA creates a UDP CLA bound to listenAddr, capping outbound and
// inbound datagrams at maxBundleSize (which must be <= MaxBundleSize; 0
// selects MaxBundleSize).
func NewCLA(listenAddr string, maxBundleSize int) (*CLA, error) {
	if maxBundleSize <= 0 {
		maxBundleSize = MaxBundleSize
	}
	if maxBundleSize > MaxBundleSize {
		return nil, fmt.Errorf("udpcla: maxBundleSize %d exceeds protocol limit %d", maxBundleSize, MaxBundleSize)
	}

	return &CLA{
		listenAddr:    listenAddr,
		maxBundleSize: maxBundleSize,
		incoming:      make(chan cla.Received, 64),
		seen:          make(map[string]cla.Connection),
		stopCh:        make(chan struct{}),
	}, nil
}

func (c *CLA) ID() string   { return "udpcla:" + c.listenAddr }
func (c *CLA) Name() string { return "udpcla" }

func (c *CLA) Start() error {
	addr, err := net.ResolveUDPAddr("udp", c.listenAddr)
	if err != nil {
		return fmt.Errorf("udpcla: resolving %s: %w", c.listenAddr, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("udpcla: listening on %s: %w", c.listenAddr, err)
	}
	c.conn = conn

	c.wg.Add(1)
	go c.readLoop()

	log.WithFields(log.Fields{"cla": c.ID(), "addr": c.listenAddr}).Info("udpcla: listening")
	return nil
}

func (c *CLA) readLoop() {
	defer c.wg.Done()

	buf := make([]byte, c.maxBundleSize)
	for {
		n, src, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-c.stopCh:
				return
			default:
				log.WithFields(log.Fields{"cla": c.ID(), "error": err}).Warn("udpcla: read failed")
				return
			}
		}

		b, err := bpv7.ParseBundle(buf[:n])
		if err != nil {
			log.WithFields(log.Fields{"cla": c.ID(), "source": src, "error": err}).Warn("udpcla: failed to decode datagram")
			continue
		}

		conn := c.connectionFor(src)
		c.incoming <- cla.Received{Bundle: b, Connection: conn}
	}
}

func (c *CLA) connectionFor(src *net.UDPAddr) cla.Connection {
	key := src.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.seen[key]; ok {
		return conn
	}

	conn := cla.Connection{
		ID:            "udp-" + key,
		RemoteAddress: key,
		CLAType:       c.Name(),
		EstablishedAt: time.Now(),
	}
	c.seen[key] = conn
	return conn
}

// SendBundle encodes b and sends it as a single datagram to p's address.
func (c *CLA) SendBundle(b bpv7.Bundle, p peer.Peer) error {
	data, err := bpv7.MarshalBundle(b)
	if err != nil {
		return fmt.Errorf("udpcla: marshalling bundle: %w", err)
	}
	if len(data) > c.maxBundleSize {
		return BundleTooLarge{Size: len(data), Max: c.maxBundleSize}
	}

	addr, err := net.ResolveUDPAddr("udp", p.Address)
	if err != nil {
		return fmt.Errorf("udpcla: resolving peer address %s: %w", p.Address, err)
	}

	_, err = c.conn.WriteToUDP(data, addr)
	return err
}

func (c *CLA) CanReach(p peer.Peer) bool { return p.HasCLA(c.Name()) && p.Address != "" }

func (c *CLA) GetConnections() []cla.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]cla.Connection, 0, len(c.seen))
	for _, conn := range c.seen {
		out = append(out, conn)
	}
	return out
}

func (c *CLA) Incoming() <-chan cla.Received { return c.incoming }

func (c *CLA) Stop() error {
	close(c.stopCh)
	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	c.wg.Wait()
	return err
}
