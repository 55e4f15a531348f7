// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/dtn7/cboring"
	"github.com/schollz/peerdiscovery"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnagent-go/eid"
)

// Default UDP broadcast discovery addresses/port.
const (
	DiscoveryAddress4 = "224.23.23.23"
	DiscoveryAddress6 = "ff02::23"
	DiscoveryPort     = 35039
)

// Announcement is the payload a node periodically broadcasts so neighbours
// can discover it: its EID and the CLA it is reachable by at the
// advertised port.
type Announcement struct {
	Endpoint eid.EndpointID
	CLAName  string
	Port     uint16
}

func (a *Announcement) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}
	if err := cboring.Marshal(&a.Endpoint, w); err != nil {
		return fmt.Errorf("peer: marshalling announcement endpoint: %w", err)
	}
	if err := cboring.WriteTextString(a.CLAName, w); err != nil {
		return err
	}
	return cboring.WriteUInt(uint64(a.Port), w)
}

func (a *Announcement) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 3 {
		return fmt.Errorf("peer: announcement expects array of 3, got %d", n)
	}

	if err := cboring.Unmarshal(&a.Endpoint, r); err != nil {
		return fmt.Errorf("peer: unmarshalling announcement endpoint: %w", err)
	}
	name, err := cboring.ReadTextString(r)
	if err != nil {
		return err
	}
	a.CLAName = name

	port, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	a.Port = uint16(port)

	return nil
}

// MarshalAnnouncements encodes a slice of Announcements as a CBOR array,
// the payload broadcast on the discovery multicast groups.
func MarshalAnnouncements(as []Announcement) ([]byte, error) {
	var buf bytes.Buffer
	if err := cboring.WriteArrayLength(uint64(len(as)), &buf); err != nil {
		return nil, err
	}
	for i := range as {
		if err := cboring.Marshal(&as[i], &buf); err != nil {
			return nil, fmt.Errorf("peer: marshalling announcement %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalAnnouncements decodes the CBOR array MarshalAnnouncements
// produces.
func UnmarshalAnnouncements(data []byte) ([]Announcement, error) {
	r := bytes.NewReader(data)

	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return nil, err
	}

	as := make([]Announcement, n)
	for i := range as {
		if err := as[i].UnmarshalCbor(r); err != nil {
			return nil, fmt.Errorf("peer: unmarshalling announcement %d: %w", i, err)
		}
	}
	return as, nil
}

// DiscoveryService periodically broadcasts this node's Announcements over
// UDP multicast and feeds every neighbour it hears back from into a
// Manager as a Dynamic peer. Gated entirely by the
// disableNeighbourDiscovery configuration option; callers simply don't
// construct one when discovery is disabled.
type DiscoveryService struct {
	manager *Manager

	stopChan4 chan struct{}
	stopChan6 chan struct{}
}

// NewDiscoveryService starts broadcasting announcements and listening for
// peers on the enabled IP versions, every interval.
func NewDiscoveryService(manager *Manager, announcements []Announcement, interval time.Duration, ipv4, ipv6 bool) (*DiscoveryService, error) {
	d := &DiscoveryService{manager: manager}

	payload, err := MarshalAnnouncements(announcements)
	if err != nil {
		return nil, err
	}

	sets := []struct {
		active   bool
		address  string
		version  peerdiscovery.IPVersion
		stopChan *chan struct{}
		notify   func(peerdiscovery.Discovered)
	}{
		{ipv4, DiscoveryAddress4, peerdiscovery.IPv4, &d.stopChan4, d.notify},
		{ipv6, DiscoveryAddress6, peerdiscovery.IPv6, &d.stopChan6, d.notify6},
	}

	for _, set := range sets {
		if !set.active {
			continue
		}
		*set.stopChan = make(chan struct{})

		settings := peerdiscovery.Settings{
			Limit:            -1,
			Port:             fmt.Sprintf("%d", DiscoveryPort),
			MulticastAddress: set.address,
			Payload:          payload,
			Delay:            interval,
			TimeLimit:        -1,
			StopChan:         *set.stopChan,
			AllowSelf:        true,
			IPVersion:        set.version,
			Notify:           set.notify,
		}

		errCh := make(chan error, 1)
		go func() { errCh <- func() error { _, err := peerdiscovery.Discover(settings); return err }() }()

		select {
		case err := <-errCh:
			if err != nil {
				return nil, fmt.Errorf("peer: starting discovery: %w", err)
			}
		case <-time.After(time.Second):
		}
	}

	return d, nil
}

func (d *DiscoveryService) notify6(discovered peerdiscovery.Discovered) {
	discovered.Address = fmt.Sprintf("[%s]", discovered.Address)
	d.notify(discovered)
}

func (d *DiscoveryService) notify(discovered peerdiscovery.Discovered) {
	announcements, err := UnmarshalAnnouncements(discovered.Payload)
	if err != nil {
		log.WithFields(log.Fields{"peer": discovered.Address, "error": err}).
			Warn("peer: discovery failed to parse incoming announcement")
		return
	}

	for _, a := range announcements {
		d.manager.AddOrUpdate(Peer{
			EID:     a.Endpoint,
			Address: fmt.Sprintf("%s:%d", discovered.Address, a.Port),
			Kind:    Dynamic,
			CLAList: []CLARef{{Name: a.CLAName, Port: a.Port}},
		})
	}
}

// Close stops broadcasting and listening.
func (d *DiscoveryService) Close() {
	for _, ch := range []chan struct{}{d.stopChan4, d.stopChan6} {
		if ch != nil {
			ch <- struct{}{}
		}
	}
}
