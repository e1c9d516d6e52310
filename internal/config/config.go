// Package config loads manager and peer configuration from an optional
// YAML file, with command-line flags overriding individual fields —
// the same two-layer shape the teacher's flag.RegisterFlags used, with a
// YAML base layer underneath it.
package config

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ManagerConfig controls the session manager process.
type ManagerConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	ListenPort int    `yaml:"listenPort"`
	MinPort    int    `yaml:"minPort"`
	MaxPort    int    `yaml:"maxPort"`
	// Seed, when non-zero, makes peer selection deterministic. Used
	// by tests; production leaves it zero, which selects an unpredictable
	// seed.
	Seed int64 `yaml:"seed"`
}

// DefaultManagerConfig mirrors spec.md §6: manager default endpoint
// 127.0.0.1:15000, port range [15000, 15499].
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ListenAddr: "127.0.0.1",
		ListenPort: 15000,
		MinPort:    15000,
		MaxPort:    15499,
	}
}

// RegisterFlags registers command-line flags that override cfg's fields.
func (c *ManagerConfig) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ListenAddr, "addr", c.ListenAddr, "manager listen address")
	fs.IntVar(&c.ListenPort, "port", c.ListenPort, "manager listen port")
	fs.IntVar(&c.MinPort, "min-port", c.MinPort, "lowest reservable peer port")
	fs.IntVar(&c.MaxPort, "max-port", c.MaxPort, "highest reservable peer port")
	fs.Int64Var(&c.Seed, "seed", c.Seed, "deterministic random seed (0 = unpredictable)")
}

// PeerConfig controls a single peer process.
type PeerConfig struct {
	Name          string `yaml:"name"`
	IP            string `yaml:"ip"`
	MPort         int    `yaml:"mPort"`
	PPort         int    `yaml:"pPort"`
	ManagerAddr   string `yaml:"managerAddr"`
	ManagerPort   int    `yaml:"managerPort"`
	DatasetDir    string `yaml:"datasetDir"`
	DefaultYear   int    `yaml:"defaultYear"`
}

// DefaultPeerConfig points at the manager's default endpoint and the
// working directory's CSVFiles subdirectory, matching peer.py's
// "./CSVFiles/details-YYYY.csv" layout.
func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		ManagerAddr: "127.0.0.1",
		ManagerPort: 15000,
		IP:          "127.0.0.1",
		DatasetDir:  "./CSVFiles",
		DefaultYear: 1950,
	}
}

func (c *PeerConfig) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Name, "name", c.Name, "peer name (nonempty, alphabetic, <=15 chars)")
	fs.StringVar(&c.IP, "ip", c.IP, "this peer's advertised IPv4 address")
	fs.IntVar(&c.MPort, "m-port", c.MPort, "port used to talk to the manager")
	fs.IntVar(&c.PPort, "p-port", c.PPort, "port used to talk to other peers")
	fs.StringVar(&c.ManagerAddr, "manager-addr", c.ManagerAddr, "manager IPv4 address")
	fs.IntVar(&c.ManagerPort, "manager-port", c.ManagerPort, "manager port")
	fs.StringVar(&c.DatasetDir, "dataset-dir", c.DatasetDir, "directory holding details-YYYY.csv files")
	fs.IntVar(&c.DefaultYear, "year", c.DefaultYear, "dataset year used by setup-dht")
}

// LoadYAML reads a YAML file into out. A missing path is not an error: the
// caller's defaults (and any flags) still apply.
func LoadYAML(path string, out interface{}) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
