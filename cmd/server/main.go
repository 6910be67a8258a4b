// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the entry point for the quantfeed server: a local
// financial-data aggregation gateway that serves a canonical command tree
// over HTTP and WebSocket, fanned out to pluggable market-data providers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/quantfeed/quantfeed/internal/buildinfo"
	"github.com/quantfeed/quantfeed/internal/config"
	"github.com/quantfeed/quantfeed/internal/logging"
	"github.com/quantfeed/quantfeed/sdk/quantfeed"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.Setup()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	extensionsDir := flag.String("extensions-dir", "", "override the extensions directory")
	hashKey := flag.String("hash-api-key", "", "print the bcrypt hash for an API key and exit")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("quantfeed %s (commit %s, built %s)\n",
			buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}
	if *hashKey != "" {
		hash, err := config.HashAPIKey(*hashKey)
		if err != nil {
			log.Fatalf("hash api key: %v", err)
		}
		fmt.Println(hash)
		return
	}

	// A .env beside the binary fills credential variables (QF_<PROVIDER>_<KEY>)
	// without putting secrets into the config file.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("load .env: %v", err)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("%v", err)
		}
		cfg = loaded
	}
	if *extensionsDir != "" {
		cfg.ExtensionsDir = *extensionsDir
	}

	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if err := logging.ConfigureOutput(cfg.LoggingToFile, "."); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	log.Infof("quantfeed %s starting", buildinfo.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := quantfeed.New(cfg)
	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("server exited: %v", err)
	}
	log.Info("quantfeed stopped")
}
