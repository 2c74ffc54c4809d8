// Command noded runs a full participating node for a proof-of-work
// cryptocurrency network of the Bitcoin family: it accepts and maintains
// peer sessions, relays inventory and blocks, and serves the configured
// chain store to the network.
package main

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/btcsuite/btcd/connmgr"
	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/relaynet/noded/logcfg"
	"github.com/relaynet/noded/node"
	"github.com/relaynet/noded/peer"
	"github.com/relaynet/noded/shutdown"
	"github.com/relaynet/noded/store"
)

var log btclog.Logger = btclog.Disabled

func init() {
	log = logcfg.NewSubLogger("NODD")
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "noded: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := node.LoadConfig()
	if err != nil {
		return err
	}

	rot, err := initLogRotator(cfg.LogFilePath())
	if err != nil {
		return err
	}
	defer rot.Close()

	if err := logcfg.ParseAndSetDebugLevels(cfg.DebugLevel, logcfg.SubLoggers{
		"NODD": log,
		"NODE": node.Logger(),
		"PEER": peer.Logger(),
		"SHUT": shutdown.Logger(),
	}); err != nil {
		return err
	}

	shutdown.Start()

	peerCfg, err := cfg.PeerConfig()
	if err != nil {
		return err
	}

	chainStore := store.NewMemStore()
	ctx := node.New(peerCfg, chainStore)

	go runIngestionWorker(ctx)
	go runInvWorker(ctx)

	var listener net.Listener
	if cfg.Listen != "" {
		listener, err = net.Listen("tcp", cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
		}
		defer listener.Close()
		go acceptLoop(listener, ctx)
		log.Infof("listening on %s", cfg.Listen)
	}

	cm, err := startConnManager(cfg, ctx)
	if err != nil {
		return err
	}
	defer cm.Stop()

	log.Info("noded started")
	<-shutdown.Channel()
	log.Info("noded shutting down")
	return nil
}

// acceptLoop accepts inbound TCP connections and spins up a Session for
// each, until the listener is closed. Whether an inbound peer is actually
// kept is decided later, by Session.Start's accept policy.
func acceptLoop(listener net.Listener, ctx *node.Context) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if !shutdown.Alive() {
				return
			}
			log.Errorf("accept: %v", err)
			continue
		}
		s := peer.NewSession(conn, peer.Inbound, ctx)
		s.Start()
	}
}

// startConnManager wires github.com/btcsuite/btcd/connmgr for the
// configured `connect` peers: each gets a permanent outbound ConnReq so
// connmgr retries with its own backoff policy if the dial fails or the
// connection later drops.
func startConnManager(cfg *node.Config, ctx *node.Context) (*connmgr.ConnManager, error) {
	cm, err := connmgr.New(&connmgr.Config{
		TargetOutbound: uint32(len(cfg.Connect)),
		Dial: func(addr net.Addr) (net.Conn, error) {
			return net.Dial(addr.Network(), addr.String())
		},
		OnConnection: func(req *connmgr.ConnReq, conn net.Conn) {
			s := peer.NewSession(conn, peer.Outbound, ctx)
			s.Start()
		},
		OnDisconnection: func(req *connmgr.ConnReq) {
			log.Debugf("connmgr: disconnected from %s", req.Addr)
		},
	})
	if err != nil {
		return nil, err
	}
	cm.Start()

	for _, addr := range cfg.Connect {
		tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
		if err != nil {
			log.Warnf("skipping invalid connect peer %q: %v", addr, err)
			continue
		}
		cm.Connect(&connmgr.ConnReq{Addr: tcpAddr, Permanent: true})
	}

	return cm, nil
}

// runIngestionWorker drains the ingestion queue outside any session's
// goroutine, so that decoding and appending a large block never blocks a
// session's own read loop. Validation itself remains out of scope here;
// this worker only appends to the chain store and primes the relay cache.
func runIngestionWorker(ctx *node.Context) {
	for {
		item, ok := ctx.DequeueIngest(shutdown.Channel())
		if !ok {
			return
		}

		switch item.Kind {
		case peer.IngestKindTx:
			if err := ctx.Store().AppendTx(item.Tx); err != nil {
				log.Debugf("ingest tx: %v", err)
				continue
			}
			ctx.NoteRelayTx(item.Tx)

		case peer.IngestKindBlock:
			if err := ctx.Store().AppendBlock(item.Block); err != nil {
				log.Debugf("ingest block: %v", err)
			}

		case peer.IngestKindHeader:
			log.Debugf("ingest header %s (height unknown without block body)",
				item.Header.BlockHash())
		}
	}
}

// runInvWorker drains the inventory queue and issues the getdata that
// turns an announcement into an actual download, fetching each
// tx/block from the session that originally announced it. Without this,
// onInvTx/onInvBlock would only ever fill inv_queue and nothing would
// dequeue it.
func runInvWorker(ctx *node.Context) {
	for {
		item, ok := ctx.DequeueInv(shutdown.Channel())
		if !ok {
			return
		}
		if item.Origin == nil {
			continue
		}

		switch item.Kind {
		case peer.InvKindTx:
			item.Origin.SendGetDataTx(item.Hash)
		case peer.InvKindBlock:
			item.Origin.SendGetDataBlock(item.Hash)
		}
	}
}

func initLogRotator(logFile string) (*rotator.Rotator, error) {
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return nil, fmt.Errorf("create log rotator: %w", err)
	}

	pr, pw := io.Pipe()
	go r.Run(pr)
	logcfg.SetOutput(pw)

	return r, nil
}
