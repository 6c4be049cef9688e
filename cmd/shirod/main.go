package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/shiro-wallet/shirod/internal/config"
	httpservice "github.com/shiro-wallet/shirod/internal/interface/http"
	log "github.com/sirupsen/logrus"
)

// Version will be set during build time
var Version string

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("invalid config: %s", err)
	}

	log.SetLevel(log.Level(cfg.LogLevel))

	svc, err := httpservice.NewService(Version, cfg)
	if err != nil {
		log.Fatalf("failed to create service: %s", err)
	}

	log.Infof("shirod config: %s", cfg)

	log.Info("starting service...")
	if err := svc.Start(); err != nil {
		log.Fatalf("failed to start service: %s", err)
	}

	log.RegisterExitHandler(svc.Stop)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(
		sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP, os.Interrupt,
	)
	<-sigChan

	log.Info("shutting down service...")
	log.Exit(0)
}
