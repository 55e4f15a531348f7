// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnagent-go/appagent"
	"github.com/dtn7/dtnagent-go/cla"
	"github.com/dtn7/dtnagent-go/cla/httpcla"
	"github.com/dtn7/dtnagent-go/cla/tcpclv4"
	"github.com/dtn7/dtnagent-go/cla/udpcla"
	"github.com/dtn7/dtnagent-go/dtncore"
	"github.com/dtn7/dtnagent-go/eid"
	"github.com/dtn7/dtnagent-go/internal/config"
	"github.com/dtn7/dtnagent-go/mgmt"
	"github.com/dtn7/dtnagent-go/peer"
	"github.com/dtn7/dtnagent-go/routing"
	"github.com/dtn7/dtnagent-go/service"
	"github.com/dtn7/dtnagent-go/store"
)

const (
	defaultJanitorSeconds = 10
	defaultPeerSeconds    = 300
)

// setupLogging applies conf.Logging: level, caller reporting, and
// text/json formatter selection.
func setupLogging(conf config.LoggingBlock) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level": conf.Level,
				"error": err,
			}).Warn("Failed to set log level. Please select one of panic,fatal,error,warn,info,debug,trace")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	case "json":
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		log.Warn("Unknown logging format")
	}
}

// buildStore selects the store backend named by conf.Core.DB.
func buildStore(conf config.CoreBlock) (store.Store, error) {
	switch conf.DB {
	case "", "mem":
		return store.NewMemStore(), nil
	case "sqlite", "sql":
		path := conf.Workdir
		if path == "" {
			path = "."
		}
		return store.NewSQLStore(path + "/bundles.db")
	default:
		return nil, fmt.Errorf("config: unknown core.db %q", conf.DB)
	}
}

// buildRouter selects and configures the routing agent named by
// conf.Routing.Algorithm.
func buildRouter(conf config.RoutingBlock) (routing.Router, error) {
	settings := conf.Settings[conf.Algorithm]

	switch conf.Algorithm {
	case "", "epidemic":
		return routing.NewEpidemic(), nil

	case "flooding":
		return routing.NewFlooding(), nil

	case "sink":
		return routing.NewSink(), nil

	case "sprayandwait":
		copies := uint(0)
		if v, ok := settings["num_copies"]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("config: routingSettings.sprayandwait.num_copies: %w", err)
			}
			copies = uint(n)
		}
		return routing.NewSprayAndWait(copies), nil

	case "static":
		routesFile := settings["routes"]
		var routes []routing.Route
		if routesFile != "" {
			var err error
			if routes, err = routing.ParseRoutesFile(routesFile); err != nil {
				return nil, err
			}
		}
		return routing.NewStatic(routesFile, routes), nil

	default:
		return nil, fmt.Errorf("config: unknown routing.algorithm %q", conf.Algorithm)
	}
}

// buildCLA instantiates one CLA (and, for the HTTP pull CLA, wires its
// peer lookup closure back into pm) from a parsed config.CLAConfig.
func buildCLA(c config.CLAConfig, nodeID string, pm *peer.Manager) (cla.CLA, error) {
	switch v := c.(type) {
	case config.TCPCLConfig:
		return tcpclv4.NewCLA(v.Listen, nodeID, pm), nil

	case config.UDPConfig:
		return udpcla.NewCLA(v.Listen, v.MaxBundleSize)

	case config.HTTPPushConfig:
		return httpcla.NewPushCLA(v.ID, v.MaxRetries), nil

	case config.HTTPPullConfig:
		return httpcla.NewPullCLA(v.ID, v.PollInterval, pm.GetAll), nil

	default:
		return nil, fmt.Errorf("config: unsupported cla config %T", c)
	}
}

// buildStatics converts config.StaticPeer entries into peer.Peer records
// and seeds pm with them.
func buildStatics(statics []config.StaticPeer, pm *peer.Manager) error {
	for _, s := range statics {
		id, err := eid.Parse(s.EID)
		if err != nil {
			return fmt.Errorf("config: static peer %q: %w", s.EID, err)
		}

		claRefs := make([]peer.CLARef, 0, len(s.CLAs))
		for _, name := range s.CLAs {
			claRefs = append(claRefs, peer.CLARef{Name: name})
		}

		pm.AddOrUpdate(peer.Peer{
			EID:     id,
			Address: s.Address,
			Kind:    peer.Static,
			CLAList: claRefs,
		})
	}
	return nil
}

// buildServices registers conf.Services (tag string -> endpoint URI) into
// reg.
func buildServices(conf map[string]string, reg *service.Registry) error {
	for tagStr, endpointURI := range conf {
		tag, err := strconv.Atoi(tagStr)
		if err != nil || tag < 0 || tag > 255 {
			return fmt.Errorf("config: services: invalid tag %q", tagStr)
		}
		id, err := eid.Parse(endpointURI)
		if err != nil {
			return fmt.Errorf("config: services.%s: %w", tagStr, err)
		}
		reg.Register(service.Service{Tag: uint8(tag), Endpoint: id})
	}
	return nil
}

func secondsOrDefault(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

// build assembles every collaborator from conf and returns a
// ready-to-Start Core plus the mgmt router serving it.
func build(conf *config.File) (*dtncore.Core, *mux.Router, *peer.DiscoveryService, error) {
	setupLogging(conf.Logging)

	nodeID, err := eid.Parse(conf.Core.NodeID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config: core.node-id: %w", err)
	}

	st, err := buildStore(conf.Core)
	if err != nil {
		return nil, nil, nil, err
	}

	peerTimeout := secondsOrDefault(conf.Core.PeerTimeout, defaultPeerSeconds)
	pm := peer.NewManager(peerTimeout)

	if err := buildStatics(conf.Statics, pm); err != nil {
		return nil, nil, nil, err
	}

	router, err := buildRouter(conf.Routing)
	if err != nil {
		return nil, nil, nil, err
	}

	claConfigs, err := config.ParseCLAs(conf.CLAs)
	if err != nil {
		return nil, nil, nil, err
	}

	claManager := cla.NewManager()
	for _, cc := range claConfigs {
		c, err := buildCLA(cc, nodeID.String(), pm)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := claManager.Register(c); err != nil {
			return nil, nil, nil, fmt.Errorf("config: registering cla %s: %w", c.ID(), err)
		}
	}

	services := service.NewRegistry()
	if err := buildServices(conf.Services, services); err != nil {
		return nil, nil, nil, err
	}

	appAgent := appagent.NewAgent()

	endpoints := make([]eid.EndpointID, 0, len(conf.Endpoints))
	for _, e := range conf.Endpoints {
		id, err := eid.Parse(e)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("config: endpoints: %w", err)
		}
		endpoints = append(endpoints, id)
	}

	core := dtncore.NewCore(dtncore.Config{
		NodeID:                nodeID,
		Store:                 st,
		CLAs:                  claManager,
		Peers:                 pm,
		Services:              services,
		AppAgent:              appAgent,
		Router:                router,
		Endpoints:             endpoints,
		GenerateStatusReports: conf.Core.GenerateStatusReports,
		JanitorInterval:       secondsOrDefault(conf.Core.JanitorInterval, defaultJanitorSeconds),
		PeerTimeout:           peerTimeout,
	})

	router2 := mux.NewRouter()
	mgmt.NewServer(core, router2)

	var ds *peer.DiscoveryService
	if !conf.Core.DisableNeighbourDiscovery {
		interval := secondsOrDefault(conf.Core.AnnouncementInterval, 10)
		var anns []peer.Announcement
		for _, c := range claManager.All() {
			anns = append(anns, peer.Announcement{Endpoint: nodeID, CLAName: c.Name()})
		}
		if ds, err = peer.NewDiscoveryService(pm, anns, interval, true, true); err != nil {
			log.WithFields(log.Fields{"error": err}).Warn("dtnd: neighbour discovery disabled")
			ds = nil
		}
	}

	return core, router2, ds, nil
}
