// Command manager boots the session manager process (spec.md §1: process
// bootstrap is an external collaborator, implemented here so the repo
// runs end to end). Grounded on the teacher's examples/find_infohash_and_wait
// main.go: flag.Parse, construct, start, block until signaled.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"stormring/internal/config"
	"stormring/internal/logger/zapadapter"
	"stormring/internal/manager"
)

func main() {
	// First pass: find -config, nothing else, so the YAML file loads
	// before command-line overrides are applied to it.
	configFS := flag.NewFlagSet("manager-config", flag.ContinueOnError)
	configPath := configFS.String("config", "", "optional YAML config file")
	configFS.SetOutput(os.Stderr)
	_ = configFS.Parse(os.Args[1:])

	cfg := config.DefaultManagerConfig()
	if err := config.LoadYAML(*configPath, &cfg); err != nil {
		os.Stderr.WriteString("manager: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Second pass: flags override whatever the YAML file set.
	fs := flag.NewFlagSet("manager", flag.ExitOnError)
	fs.String("config", "", "optional YAML config file")
	cfg.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	log, sync, err := zapadapter.New("manager")
	if err != nil {
		os.Stderr.WriteString("manager: logger init failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer sync()

	m := manager.New(cfg, log, manager.NewRand(cfg.Seed))
	if err := m.Listen(); err != nil {
		log.Errorf("manager: listen failed: %v", err)
		os.Exit(1)
	}

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("manager: shutdown signal received")
		close(stop)
	}()

	m.Run(stop)
}
