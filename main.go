package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	log.SetFlags(0)

	args := getArgs()
	if args == nil {
		return
	}

	cfg, err := loadConfig(args.ConfigFile)
	if err != nil {
		log.Fatal(err)
	}

	if args.ServerName != "" {
		cfg.ServerName = args.ServerName
	}
	if args.SID != "" {
		cfg.TS6SID = args.SID
	}

	cb := NewCatbox(cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %s, shutting down.", sig)
		cb.RequestShutdown("Server shutting down")
	}()

	if err := cb.Start(); err != nil {
		log.Fatal(err)
	}

	log.Printf("Server shutdown cleanly.")
}
