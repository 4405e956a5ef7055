package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejzeis/kinetic-relay/client"
	"github.com/alejzeis/kinetic-relay/common"
	"github.com/alejzeis/kinetic-relay/server"

	log "github.com/sirupsen/logrus"
)

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	log.SetLevel(log.DebugLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := "client"
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "-server":
			mode = "server"
		case "-backend":
			mode = "backend"
		}
	}

	log.WithFields(log.Fields{
		"software": common.SoftwareName,
		"version":  common.SoftwareVersion,
		"mode":     mode,
	}).Info("Starting...")

	if mode == "client" {
		client.RunClient(ctx)
		return
	}

	config, err := server.LoadConfig()
	if err != nil {
		log.WithError(err).Error("Failed to load configuration file.")
		os.Exit(1)
	}
	if level, err := log.ParseLevel(config.Server.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.WithField("level", config.Server.LogLevel).Warn("Unknown log level, staying at debug")
	}

	if mode == "backend" {
		err = server.StartBackend(ctx, config)
	} else {
		err = server.StartControlServer(ctx, config, server.NewRegistry(config.Server.TokenSecret))
	}
	if err != nil {
		log.WithError(err).Error("Server stopped")
		os.Exit(1)
	}
}
