package node

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"

	"github.com/relaynet/noded/peer"
)

const (
	defaultDataDirname       = "data"
	defaultLogDirname        = "logs"
	defaultLogFilename       = "noded.log"
	defaultDebugLevel        = "info"
	defaultConnectionTimeout = 30 * time.Second
	defaultMaxInv            = 5000
	defaultProtocolVersion   = 70001
	defaultMinProtoVersion   = 70001
	defaultUserAgent         = "/noded:0.1.0/"
)

// Config mirrors the peer session engine's recognized options (Connect,
// ConnectionTimeout, MaxInv, Announce, Listen) plus the ambient settings
// every full node of this shape needs (data/log directories, network
// selection, debug level). Loaded with jessevdk/go-flags, the same way a
// root Config typically is, trimmed to this module's much smaller surface.
type Config struct {
	DataDir    string `long:"datadir" description:"Directory to store chain data within"`
	LogDir     string `long:"logdir" description:"Directory to write log files within"`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- may also specify <global-level>,<subsystem>=<level>,..."`

	Network string `long:"network" description:"One of mainnet, testnet3, regtest, simnet" choice:"mainnet" choice:"testnet3" choice:"regtest" choice:"simnet"`

	Listen            string        `long:"listen" description:"IP:port to advertise as our own address"`
	Connect           []string      `long:"connect" description:"host:port of a peer to always accept inbound from, regardless of AcceptConnections"`
	ConnectionTimeout time.Duration `long:"connectiontimeout" description:"Handshake and ping liveness timeout. Valid time units are {s, m, h}"`
	MaxInv            int           `long:"maxinv" description:"Bound on the inventory work queue"`
	Announce          bool          `long:"announce" description:"Push our own Addr record on connect and on getaddr"`
	AcceptConnections bool          `long:"acceptconnections" description:"Accept inbound connections from addresses not in Connect"`

	RawListeners []string `long:"rpclisten" description:"Stubbed: the command/RPC socket is out of scope for this node"`

	UserAgent string `long:"useragent" description:"User-agent string advertised in our Version message"`

	netParams *chaincfg.Params
}

// DefaultConfig returns a Config with sane defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:           defaultDataDirname,
		LogDir:            defaultLogDirname,
		DebugLevel:        defaultDebugLevel,
		Network:           "mainnet",
		ConnectionTimeout: defaultConnectionTimeout,
		MaxInv:            defaultMaxInv,
		UserAgent:         defaultUserAgent,
		AcceptConnections: true,
	}
}

// LoadConfig parses CLI flags over a DefaultConfig and validates the
// result. This module's configuration surface is small enough that a
// single flags.Parse call covers it, with no separate INI-file pass.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}
	return ValidateConfig(cfg)
}

// ValidateConfig normalizes paths, resolves the network's chaincfg.Params,
// and checks the option combinations the rest of this package depends on.
func ValidateConfig(cfg Config) (*Config, error) {
	var err error
	cfg.DataDir, err = cleanAndExpand(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	cfg.LogDir, err = cleanAndExpand(cfg.LogDir)
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{cfg.DataDir, cfg.LogDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	switch cfg.Network {
	case "mainnet":
		cfg.netParams = &chaincfg.MainNetParams
	case "testnet3":
		cfg.netParams = &chaincfg.TestNet3Params
	case "regtest":
		cfg.netParams = &chaincfg.RegressionNetParams
	case "simnet":
		cfg.netParams = &chaincfg.SimNetParams
	default:
		return nil, fmt.Errorf("unknown network %q", cfg.Network)
	}

	if cfg.MaxInv <= 0 {
		return nil, fmt.Errorf("maxinv must be positive, got %d", cfg.MaxInv)
	}
	if cfg.ConnectionTimeout <= 0 {
		return nil, fmt.Errorf("connectiontimeout must be positive")
	}

	for _, addr := range cfg.Connect {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, fmt.Errorf("invalid connect address %q: %w", addr, err)
		}
	}

	return &cfg, nil
}

// LogFilePath returns the full path of the rotating log file.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}

// NetParams returns the resolved chaincfg.Params for the configured network.
func (c *Config) NetParams() *chaincfg.Params {
	return c.netParams
}

// PeerConfig projects this Config into the peer.Config the session engine
// consults, resolving the listen address and genesis hash along the way.
func (c *Config) PeerConfig() (peer.Config, error) {
	var listenIP string
	var listenPort uint16
	if c.Listen != "" {
		host, portStr, err := net.SplitHostPort(c.Listen)
		if err != nil {
			return peer.Config{}, fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return peer.Config{}, fmt.Errorf("invalid listen port %q: %w", portStr, err)
		}
		listenIP = host
		listenPort = uint16(port)
	}

	whitelist := make(map[string]bool, len(c.Connect))
	for _, addr := range c.Connect {
		whitelist[addr] = true
	}

	genesis := *c.netParams.GenesisHash

	return peer.Config{
		Net:                c.netParams.Net,
		ProtocolVersion:    defaultProtocolVersion,
		MinProtocolVersion: defaultMinProtoVersion,
		UserAgent:          c.UserAgent,
		ConnectionTimeout:  c.ConnectionTimeout,
		MaxInv:             c.MaxInv,
		Announce:           c.Announce,
		ListenIP:           listenIP,
		ListenPort:         listenPort,
		GenesisHash:        genesis,
		Whitelist:          whitelist,
		AcceptConnections:  c.AcceptConnections,
	}, nil
}

func cleanAndExpand(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Clean(os.ExpandEnv(path)), nil
}
