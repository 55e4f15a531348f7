// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Command dtnd is the thin wiring binary around the core: it decodes a TOML
// configuration file, assembles a *dtncore.Core plus its management HTTP
// server, starts everything, and blocks until SIGINT. The core itself (this
// module's packages) does the actual work; argument parsing and the
// entry point are kept deliberately minimal here.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnagent-go/internal/config"
)

const defaultWebAddr = "127.0.0.1:3000"

// waitSigint blocks until the process receives SIGINT.
func waitSigint() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	conf, err := config.Load(os.Args[1])
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Fatal("dtnd: failed to parse config")
	}

	core, router, discovery, err := build(conf)
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Fatal("dtnd: failed to assemble core")
	}

	webAddr := defaultWebAddr
	if conf.Core.WebPort != 0 {
		webAddr = fmt.Sprintf("127.0.0.1:%d", conf.Core.WebPort)
	}
	webServer := &http.Server{Addr: webAddr, Handler: router}

	core.Start()

	go func() {
		if err := webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithFields(log.Fields{"error": err, "addr": webAddr}).Error("dtnd: management HTTP server failed")
		}
	}()

	log.WithFields(log.Fields{"nodeId": conf.Core.NodeID, "addr": webAddr}).Info("dtnd: node started")

	waitSigint()
	log.Info("dtnd: shutting down..")

	_ = webServer.Close()
	core.Stop()
	if discovery != nil {
		discovery.Close()
	}
}
