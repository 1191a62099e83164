package shutdown

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// CreateGracefulShutdownChannel returns a channel that receives SIGINT and SIGTERM.
func CreateGracefulShutdownChannel() chan os.Signal {
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)
	return gracefulShutdown
}

// ListenForShutdown blocks until a signal arrives or done is closed, runs notify and then waits
// timeout so in-flight work can wind down.
func ListenForShutdown(gracefulShutdown chan os.Signal, done chan bool, notify func(), timeout time.Duration, l *zap.Logger) {
	select {
	case sig := <-gracefulShutdown:
		l.Sugar().Infow("Received shutdown signal", zap.String("signal", sig.String()))
	case <-done:
		l.Sugar().Infow("Received done signal")
	}

	notify()

	l.Sugar().Infow("Waiting for shutdown", zap.Duration("timeout", timeout))
	time.Sleep(timeout)
	l.Sugar().Infow("Shutdown complete")
}
