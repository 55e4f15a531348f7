// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"fmt"
	"strconv"
	"time"
)

// CLAConfig replaces the duck-typed string-to-string settings map with a
// sum type: exactly one concrete type per CLA family, each carrying only
// the settings that family understands.
type CLAConfig interface {
	claConfig()
}

// TCPCLConfig configures the tcpclv4 listener.
type TCPCLConfig struct {
	Listen string
}

func (TCPCLConfig) claConfig() {}

// UDPConfig configures the udpcla listener.
type UDPConfig struct {
	Listen        string
	MaxBundleSize int
}

func (UDPConfig) claConfig() {}

// HTTPPushConfig configures an outbound httpcla.PushCLA.
type HTTPPushConfig struct {
	ID         string
	MaxRetries int
}

func (HTTPPushConfig) claConfig() {}

// HTTPPullConfig configures an httpcla.PullCLA poller.
type HTTPPullConfig struct {
	ID           string
	PollInterval time.Duration
}

func (HTTPPullConfig) claConfig() {}

// ParseCLAs turns the raw [[cla]] tables from the TOML file into concrete
// CLAConfig values, failing on an unknown type or malformed setting.
func ParseCLAs(raw []RawCLA) ([]CLAConfig, error) {
	out := make([]CLAConfig, 0, len(raw))
	for _, r := range raw {
		c, err := parseCLA(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func parseCLA(r RawCLA) (CLAConfig, error) {
	switch r.Type {
	case "tcp", "tcpcl", "tcpclv4":
		listen, ok := r.Settings["listen"]
		if !ok {
			return nil, fmt.Errorf("config: cla %q: missing \"listen\" setting", r.Type)
		}
		return TCPCLConfig{Listen: listen}, nil

	case "udp", "udpcla":
		listen, ok := r.Settings["listen"]
		if !ok {
			return nil, fmt.Errorf("config: cla %q: missing \"listen\" setting", r.Type)
		}
		maxSize := 0
		if v, ok := r.Settings["maxBundleSize"]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("config: cla %q: maxBundleSize: %w", r.Type, err)
			}
			maxSize = n
		}
		return UDPConfig{Listen: listen, MaxBundleSize: maxSize}, nil

	case "http", "httppush":
		id := r.Settings["id"]
		retries := 0
		if v, ok := r.Settings["maxRetries"]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("config: cla %q: maxRetries: %w", r.Type, err)
			}
			retries = n
		}
		return HTTPPushConfig{ID: id, MaxRetries: retries}, nil

	case "httppull":
		id := r.Settings["id"]
		interval := time.Duration(0)
		if v, ok := r.Settings["pollInterval"]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("config: cla %q: pollInterval: %w", r.Type, err)
			}
			interval = time.Duration(n) * time.Second
		}
		return HTTPPullConfig{ID: id, PollInterval: interval}, nil

	default:
		return nil, fmt.Errorf("config: unknown cla type %q", r.Type)
	}
}
