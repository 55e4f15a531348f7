// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config decodes the on-disk TOML configuration file into the
// daemon's option surface. It is deliberately a thin decode
// layer: everything it produces is a plain data value, and the actual
// wiring of those values into a running *dtncore.Core lives in cmd/dtnd.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// File is the root of the TOML configuration, covering every option named
// File is the top-level shape of the TOML configuration file.
type File struct {
	Core    CoreBlock
	Logging LoggingBlock
	Routing RoutingBlock

	Endpoints []string
	Services  map[string]string

	CLAs    []RawCLA `toml:"cla"`
	Statics []StaticPeer
}

// CoreBlock is the Core configuration block.
type CoreBlock struct {
	NodeID string `toml:"node-id"`
	WebPort int `toml:"web-port"`
	DB      string `toml:"db"`
	Workdir string `toml:"workdir"`

	JanitorInterval           int  `toml:"janitor-interval"`
	PeerTimeout               int  `toml:"peer-timeout"`
	AnnouncementInterval      int  `toml:"announcement-interval"`
	DisableNeighbourDiscovery bool `toml:"disable-neighbour-discovery"`
	GenerateStatusReports     bool `toml:"generate-status-reports"`
	ParallelBundleProcessing  bool `toml:"parallel-bundle-processing"`
	Debug                     bool `toml:"debug"`
}

// LoggingBlock selects the log level, format, and caller reporting.
type LoggingBlock struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// RoutingBlock selects the routing algorithm and holds its
// algorithm-specific settings, e.g. routingSettings.sprayandwait.num_copies
// or routingSettings.static.routes.
type RoutingBlock struct {
	Algorithm string
	Settings  map[string]map[string]string `toml:"settings"`
}

// RawCLA is one [[cla]] table: a type tag plus a free-form settings map.
// This string-map shape is intentionally confined to this external
// boundary; ParseCLAs below turns each RawCLA into a concrete sum-typed
// CLAConfig exactly once, at startup.
type RawCLA struct {
	Type     string
	Settings map[string]string
}

// StaticPeer is one preloaded peer from the statics list.
type StaticPeer struct {
	EID     string
	Address string
	CLAs    []string
}

// Load decodes the TOML file at path.
func Load(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	if f.Core.NodeID == "" {
		return nil, fmt.Errorf("config: core.node-id is required")
	}
	return &f, nil
}
