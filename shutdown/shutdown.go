// Package shutdown provides a process-wide graceful shutdown signal.
package shutdown

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/btcsuite/btclog"

	"github.com/relaynet/noded/logcfg"
)

var log btclog.Logger = btclog.Disabled

// UseLogger sets the logger used by this package.
func UseLogger(l btclog.Logger) {
	log = l
}

// Logger returns the logger currently in use by this package.
func Logger() btclog.Logger {
	return log
}

func init() {
	UseLogger(logcfg.NewSubLogger("SHUT"))
}

var (
	interruptChannel       = make(chan os.Signal, 1)
	shutdownRequestChannel = make(chan struct{})
	quit                   = make(chan struct{})
	shutdownChannel        = make(chan struct{})

	once sync.Once
)

// Start arms the OS signal handler. It must be called once, early in
// process startup.
func Start() {
	once.Do(func() {
		signal.Notify(interruptChannel,
			os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
		go mainInterruptHandler()
	})
}

func mainInterruptHandler() {
	var isShutdown bool

	shutdown := func() {
		if isShutdown {
			log.Info("already shutting down")
			return
		}
		isShutdown = true
		log.Info("shutting down")
		close(quit)
	}

	for {
		select {
		case sig := <-interruptChannel:
			log.Infof("received %v", sig)
			shutdown()

		case <-shutdownRequestChannel:
			log.Info("received shutdown request")
			shutdown()

		case <-quit:
			close(shutdownChannel)
			return
		}
	}
}

// Alive reports whether the process has not yet been asked to shut down.
func Alive() bool {
	select {
	case <-quit:
		return false
	default:
		return true
	}
}

// Request initiates a graceful shutdown from within the application.
func Request() {
	select {
	case shutdownRequestChannel <- struct{}{}:
	case <-quit:
	}
}

// Channel returns the channel that is closed once shutdown has completed.
func Channel() <-chan struct{} {
	return shutdownChannel
}
