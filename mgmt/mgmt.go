// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package mgmt implements the management HTTP API and the HTTP CLA
// ingress routes on a single gorilla/mux router: bundle/peer
// introspection, local-endpoint registration, bundle submission, and the
// push/pull surface other nodes' httpcla instances talk to.
package mgmt

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/cla/httpcla"
	"github.com/dtn7/dtnagent-go/dtncore"
	"github.com/dtn7/dtnagent-go/eid"
	"github.com/dtn7/dtnagent-go/store"
)

// Version is reported by GET /status.
const Version = "dtnagent-go/0.1"

// Server wires a *dtncore.Core to its HTTP routes.
type Server struct {
	core      *dtncore.Core
	startedAt time.Time

	mu       sync.Mutex
	pullChan map[string]<-chan bpv7.Bundle

	push *httpcla.PushCLA
}

// NewServer creates a Server and registers every route on router.
func NewServer(core *dtncore.Core, router *mux.Router) *Server {
	s := &Server{
		core:      core,
		startedAt: time.Now(),
		pullChan:  make(map[string]<-chan bpv7.Bundle),
		push:      httpcla.NewPushCLA("mgmt", httpcla.DefaultMaxRetries),
	}

	// Bundle ids embed "dtn://" source EIDs; mux's path cleaning would
	// collapse the double slash and 301 away DELETE /bundles/<id>.
	router.SkipClean(true)

	router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	router.HandleFunc("/test", s.handleTest).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/bundles", s.handleBundles).Methods(http.MethodGet)
	router.HandleFunc("/bundles/{id:.+}", s.handleDeleteBundle).Methods(http.MethodDelete)
	router.HandleFunc("/peers", s.handlePeers).Methods(http.MethodGet)
	router.HandleFunc("/register", s.handleRegister).Methods(http.MethodGet)
	router.HandleFunc("/unregister", s.handleUnregister).Methods(http.MethodGet)
	router.HandleFunc("/send", s.handleSend).Methods(http.MethodPost)
	router.HandleFunc("/endpoint", s.handleEndpoint).Methods(http.MethodGet)

	router.HandleFunc("/push", s.push.IngressHandler(s.deliverIncoming)).Methods(http.MethodPost)
	router.HandleFunc("/status/bundles", s.handleStatusBundles).Methods(http.MethodGet)
	router.HandleFunc("/download", s.handleDownload).Methods(http.MethodGet)

	return s
}

// errorText writes body prefixed "Error: " with HTTP 200, the legacy
// textual error contract of the management routes. DELETE /bundles/<id>
// and the HTTP CLA routes (/push, /status/bundles, /download) use native
// status codes instead.
func errorText(w http.ResponseWriter, format string, args ...interface{}) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Error: "+format, args...)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithFields(log.Fields{"error": err}).Warn("mgmt: failed to write JSON response")
	}
}

func (s *Server) deliverIncoming(b bpv7.Bundle, remoteAddr string) {
	if err := s.core.SubmitIncoming(b, remoteAddr); err != nil {
		log.WithFields(log.Fields{"bundle": b.ID(), "remote": remoteAddr, "error": err}).
			Debug("mgmt: incoming bundle rejected")
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<html><head><title>dtnagent-go</title></head><body>
<h1>dtnagent-go</h1>
<ul>
<li><a href="/test">/test</a></li>
<li><a href="/status">/status</a></li>
<li><a href="/stats">/stats</a></li>
<li><a href="/bundles">/bundles</a></li>
<li><a href="/peers">/peers</a></li>
</ul>
</body></html>`)
}

func (s *Server) handleTest(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "Test route working")
}

type statusResponse struct {
	NodeID     string           `json:"nodeId"`
	Uptime     string           `json:"uptime"`
	Version    string           `json:"version"`
	Statistics statusStatistics `json:"statistics"`
}

type statusStatistics struct {
	Incoming  uint64 `json:"incoming"`
	Outgoing  uint64 `json:"outgoing"`
	Delivered uint64 `json:"delivered"`
	Stored    uint64 `json:"stored"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	stats := s.core.Statistics()
	writeJSON(w, statusResponse{
		NodeID:  s.core.NodeID.String(),
		Uptime:  time.Since(s.startedAt).String(),
		Version: Version,
		Statistics: statusStatistics{
			Incoming:  stats.Incoming,
			Outgoing:  stats.Outgoing,
			Delivered: stats.Delivered,
			Stored:    stats.Stored,
		},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.core.Statistics())
}

type bundlesResponse struct {
	Count   int      `json:"count"`
	Bundles []string `json:"bundles"`
}

func (s *Server) handleBundles(w http.ResponseWriter, _ *http.Request) {
	ids, err := s.core.Store.AllIds()
	if err != nil {
		errorText(w, "%v", err)
		return
	}
	writeJSON(w, bundlesResponse{Count: len(ids), Bundles: ids})
}

// handleDeleteBundle hard-deletes a bundle via Store.Purge, so a subsequent
// GET /bundles reflects the deletion immediately rather than waiting on the
// janitor.
func (s *Server) handleDeleteBundle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var notFound store.ErrNotFound
	if err := s.core.Store.Purge(id); err != nil {
		if errors.As(err, &notFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type peersResponse struct {
	Count int          `json:"count"`
	Peers []peerSummary `json:"peers"`
}

type peerSummary struct {
	EID         string            `json:"eid"`
	Type        string            `json:"type"`
	LastContact int64             `json:"lastContact"`
	Services    map[uint8]string  `json:"services"`
}

func (s *Server) handlePeers(w http.ResponseWriter, _ *http.Request) {
	peers := s.core.Peers.GetAll()
	out := make([]peerSummary, 0, len(peers))
	for _, p := range peers {
		out = append(out, peerSummary{
			EID:         p.EID.String(),
			Type:        p.Kind.String(),
			LastContact: p.LastContact,
			Services:    p.Services,
		})
	}
	writeJSON(w, peersResponse{Count: len(out), Peers: out})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	id, err := eid.Parse(r.URL.Query().Get("endpoint"))
	if err != nil {
		errorText(w, "%v", err)
		return
	}

	ch := s.core.RegisterEndpoint(id)

	s.mu.Lock()
	s.pullChan[id.String()] = ch
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "registered %s", id)
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	id, err := eid.Parse(r.URL.Query().Get("endpoint"))
	if err != nil {
		errorText(w, "%v", err)
		return
	}

	s.core.UnregisterEndpoint(id)

	s.mu.Lock()
	delete(s.pullChan, id.String())
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "unregistered %s", id)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	src, err := eid.Parse(q.Get("src"))
	if err != nil {
		errorText(w, "src: %v", err)
		return
	}
	dst, err := eid.Parse(q.Get("dst"))
	if err != nil {
		errorText(w, "dst: %v", err)
		return
	}

	lifetimeMs := int64(24 * time.Hour / time.Millisecond)
	if v := q.Get("lifetime"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &lifetimeMs); err != nil {
			errorText(w, "lifetime: %v", err)
			return
		}
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		errorText(w, "reading body: %v", err)
		return
	}

	b, err := bpv7.NewBuilder().
		Source(src).
		Destination(dst).
		CreationTimestampNow().
		Lifetime(time.Duration(lifetimeMs) * time.Millisecond).
		PayloadBlock(payload).
		Build()
	if err != nil {
		errorText(w, "building bundle: %v", err)
		return
	}

	if err := s.core.SubmitBundle(b); err != nil {
		errorText(w, "submitting bundle: %v", err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "sent %s", b.ID())
}

func (s *Server) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	id, err := eid.Parse(r.URL.Query().Get("endpoint"))
	if err != nil {
		errorText(w, "%v", err)
		return
	}

	s.mu.Lock()
	ch, ok := s.pullChan[id.String()]
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !ok {
		errorText(w, "endpoint %s is not registered", id)
		return
	}

	select {
	case b, ok := <-ch:
		if !ok {
			fmt.Fprint(w, "Nothing to receive")
			return
		}
		data, err := bpv7.MarshalBundle(b)
		if err != nil {
			errorText(w, "%v", err)
			return
		}
		fmt.Fprint(w, base64.StdEncoding.EncodeToString(data))
	default:
		fmt.Fprint(w, "Nothing to receive")
	}
}

// handleStatusBundles answers another node's httpcla.PullCLA poll with every
// bundle id currently held.
func (s *Server) handleStatusBundles(w http.ResponseWriter, _ *http.Request) {
	ids, err := s.core.Store.AllIds()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Bundles []string `json:"bundles"`
	}{Bundles: ids})
}

// handleDownload answers another node's httpcla.PullCLA download.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("bundle")

	b, err := s.core.Store.GetBundle(id)
	if err != nil {
		http.Error(w, "no such bundle", http.StatusNotFound)
		return
	}

	data, err := bpv7.MarshalBundle(b)
	if err != nil {
		http.Error(w, "encoding bundle failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(data); err != nil {
		log.WithFields(log.Fields{"bundle": id, "error": err}).Warn("mgmt: writing download response failed")
	}
}
