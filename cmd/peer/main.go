// Command peer boots a single ring participant and its interactive shell
// (spec.md §1 names the shell an external collaborator; it is implemented
// here, grounded on flavio-simonelli-KoordeDHT's cmd/client/main.go liner
// loop, so the repo is runnable end to end).
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/peterh/liner"

	"stormring/internal/config"
	"stormring/internal/dataset"
	"stormring/internal/logger/zapadapter"
	"stormring/internal/peerengine"
	"stormring/internal/wire"
)

func main() {
	configFS := flag.NewFlagSet("peer-config", flag.ContinueOnError)
	configPath := configFS.String("config", "", "optional YAML config file")
	configFS.SetOutput(os.Stderr)
	_ = configFS.Parse(os.Args[1:])

	cfg := config.DefaultPeerConfig()
	if err := config.LoadYAML(*configPath, &cfg); err != nil {
		os.Stderr.WriteString("peer: " + err.Error() + "\n")
		os.Exit(1)
	}

	fs := flag.NewFlagSet("peer", flag.ExitOnError)
	fs.String("config", "", "optional YAML config file")
	cfg.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	if cfg.Name == "" {
		os.Stderr.WriteString("peer: -name is required\n")
		os.Exit(1)
	}

	log, syncLog, err := zapadapter.New("peer." + cfg.Name)
	if err != nil {
		os.Stderr.WriteString("peer: logger init failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer syncLog()

	conn, err := wire.Listen(cfg.IP, cfg.PPort, log)
	if err != nil {
		log.Errorf("peer: listen failed: %v", err)
		os.Exit(1)
	}

	loader := dataset.NewLoader(cfg.DatasetDir, 4)
	engine := peerengine.New(cfg.Name, cfg.IP, cfg.MPort, cfg.PPort, cfg.ManagerAddr, cfg.ManagerPort, conn, log, peerengine.NewRand(0), loader)

	stop := make(chan struct{})
	go engine.Run(stop)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(stop)
		os.Exit(0)
	}()

	runShell(engine, cfg)
}

// runShell is the CLI surface spec.md §6 names: register, setup-dht,
// teardown-dht, query-dht, leave-dht, join-dht, exit.
func runShell(engine *peerengine.Engine, cfg config.PeerConfig) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Printf("stormring peer %q. Commands: r, setup-dht, teardown-dht, query-dht, leave-dht, join-dht, status, exit\n", cfg.Name)

	for {
		input, err := line.Prompt(fmt.Sprintf("%s> ", cfg.Name))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}
			return
		}
		line.AppendHistory(input)

		args := strings.Fields(strings.TrimSpace(input))
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "r", "register":
			if err := engine.Register(); err != nil {
				fmt.Printf("register failed: %v\n", err)
			}
		case "deregister":
			if err := engine.Deregister(); err != nil {
				fmt.Printf("deregister failed: %v\n", err)
			}
		case "setup-dht":
			if len(args) < 2 {
				fmt.Println("usage: setup-dht <n> [year]")
				continue
			}
			n, err := strconv.Atoi(args[1])
			if err != nil {
				fmt.Printf("bad n: %v\n", err)
				continue
			}
			year := cfg.DefaultYear
			if len(args) >= 3 {
				year, _ = strconv.Atoi(args[2])
			}
			if err := engine.RequestSetupDHT(n, year); err != nil {
				fmt.Printf("setup-dht failed: %v\n", err)
			}
		case "teardown-dht":
			if err := engine.RequestTeardownDHT(); err != nil {
				fmt.Printf("teardown-dht failed: %v\n", err)
			}
		case "query-dht":
			if len(args) < 2 {
				fmt.Println("usage: query-dht <event_id>")
				continue
			}
			eventID, err := strconv.Atoi(args[1])
			if err != nil {
				fmt.Printf("bad event id: %v\n", err)
				continue
			}
			if err := engine.RequestQueryDHT(eventID); err != nil {
				fmt.Printf("query-dht failed: %v\n", err)
			}
		case "leave-dht":
			if err := engine.RequestLeaveDHT(); err != nil {
				fmt.Printf("leave-dht failed: %v\n", err)
			}
		case "join-dht":
			if err := engine.RequestJoinDHT(); err != nil {
				fmt.Printf("join-dht failed: %v\n", err)
			}
		case "status":
			snap := engine.Snapshot()
			fmt.Printf("state=%s identifier=%d ring_size=%d local=%d flags=%+v\n",
				snap.State, snap.Identifier, snap.RingSize, snap.LocalCount, snap.Flags)
			result := engine.LastFindResult()
			if result.Requested {
				fmt.Printf("last find-event: found=%v id-seq=%v record=%v\n", result.Found, result.IDSeq, result.Record)
			}
		case "exit", "quit":
			fmt.Println("bye")
			return
		default:
			fmt.Printf("unknown command: %s\n", args[0])
		}
	}
}
