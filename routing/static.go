// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package routing

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/eid"
	"github.com/dtn7/dtnagent-go/peer"
)

// Route is one entry of the static routing table: a bundle whose source
// and destination both match the glob patterns is sent via Via.
type Route struct {
	Index              int
	SourcePattern      string
	DestinationPattern string
	Via                eid.EndpointID
}

var routeLineRe = regexp.MustCompile(`^#(\d+)\s+(\S+)\s+(\S+)\s+via\s+(\S+)\s*$`)

// ParseRoutesFile reads the static route table file, one route per line in
// the form "#<index> <sourcePattern> <destinationPattern> via <viaEid>".
// Blank lines and lines starting with "#" immediately followed by
// non-digit text (treated as a comment) are skipped.
func ParseRoutesFile(path string) ([]Route, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("routing: opening routes file %s: %w", path, err)
	}
	defer f.Close()

	var routes []Route
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		m := routeLineRe.FindStringSubmatch(line)
		if m == nil {
			log.WithFields(log.Fields{"line": line}).Debug("routing: skipping unparsable static route line")
			continue
		}

		idx, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("routing: invalid route index in %q: %w", line, err)
		}

		via, err := eid.Parse(m[4])
		if err != nil {
			return nil, fmt.Errorf("routing: invalid via endpoint in %q: %w", line, err)
		}

		routes = append(routes, Route{
			Index:              idx,
			SourcePattern:      m[2],
			DestinationPattern: m[3],
			Via:                via,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sort.Slice(routes, func(i, j int) bool { return routes[i].Index < routes[j].Index })
	return routes, nil
}

// globToRegexp translates a "*"/"?" glob pattern into an anchored regexp.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}

func globMatches(value, pattern string) bool {
	re, err := globToRegexp(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

// Static is the static routing agent: an ordered route table, reloadable
// from disk, with no fallback beyond the first matching rule.
type Static struct {
	mu sync.RWMutex

	pm   *peer.Manager
	core Core

	routesFile string
	routes     []Route

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewStatic creates a Static router with an initial route table. routesFile
// may be empty, in which case no file watch is installed and only manual
// CmdReload notifications (or an explicit SetRoutes) change the table.
func NewStatic(routesFile string, routes []Route) *Static {
	return &Static{routesFile: routesFile, routes: routes, stopCh: make(chan struct{})}
}

func (s *Static) Configure(pm *peer.Manager, core Core) error {
	s.pm = pm
	s.core = core
	return nil
}

// Start installs an fsnotify watch on the routes file, if configured, so
// an on-disk edit reloads the table without an explicit CmdReload.
func (s *Static) Start() {
	if s.routesFile == "" {
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Warn("routing: static router could not start file watcher")
		return
	}
	if err := w.Add(s.routesFile); err != nil {
		log.WithFields(log.Fields{"file": s.routesFile, "error": err}).Warn("routing: static router could not watch routes file")
		w.Close()
		return
	}
	s.watcher = w

	go func() {
		for {
			select {
			case <-s.stopCh:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					s.reload()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithFields(log.Fields{"error": err}).Warn("routing: static router file watch error")
			}
		}
	}()
}

func (s *Static) Stop() {
	close(s.stopCh)
	if s.watcher != nil {
		s.watcher.Close()
	}
}

func (s *Static) reload() {
	routes, err := ParseRoutesFile(s.routesFile)
	if err != nil {
		log.WithFields(log.Fields{"file": s.routesFile, "error": err}).Warn("routing: static router reload failed")
		return
	}

	s.mu.Lock()
	s.routes = routes
	s.mu.Unlock()

	log.WithFields(log.Fields{"file": s.routesFile, "routes": len(routes)}).Info("routing: static router reloaded routes")
}

func (s *Static) GetNextHops(b bpv7.Bundle) Decision {
	dest := b.PrimaryBlock.Destination
	id := b.ID().String()

	if s.core != nil && s.core.IsLocalEndpoint(dest) {
		return localDeliveryDecision(id)
	}

	source := b.PrimaryBlock.SourceNode.String()
	destStr := dest.String()

	s.mu.RLock()
	routes := s.routes
	s.mu.RUnlock()

	for _, r := range routes {
		if !globMatches(source, r.SourcePattern) || !globMatches(destStr, r.DestinationPattern) {
			continue
		}

		p, ok := s.pm.GetPeer(r.Via)
		if !ok || !p.HasAnyCLA() {
			return Decision{BundleID: id}
		}
		return Decision{BundleID: id, NextHops: []peer.Peer{p}}
	}

	return Decision{BundleID: id}
}

// HandleNotification reloads the route table from disk on CmdReload.
func (s *Static) HandleNotification(cmd Command) {
	if cmd.Name == CmdReload {
		s.reload()
	}
}

func (s *Static) GetState() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]string{
		"algorithm": "static",
		"routes":    fmt.Sprintf("%d", len(s.routes)),
	}
}
