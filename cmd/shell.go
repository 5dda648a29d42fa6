package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ota-server/updateserver/log"
)

// FailOnError logs msg plus err to stderr and exits, mirroring the
// teacher's cmd.FailOnError used by every service's main().
func FailOnError(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", msg, err)
		os.Exit(1)
	}
}

var signalToName = map[os.Signal]string{
	syscall.SIGTERM: "SIGTERM",
	syscall.SIGINT:  "SIGINT",
	syscall.SIGHUP:  "SIGHUP",
}

// CatchSignals blocks until SIGTERM, SIGINT, or SIGHUP arrives, then runs
// callback and returns, carried from the teacher's cmd.CatchSignals (which
// instead called os.Exit directly; here the caller controls process exit so
// that the HTTP server's shutdown return value can still be inspected).
func CatchSignals(logger log.Logger, callback func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	sig := <-sigChan
	logger.Info("caught %s", signalToName[sig])

	if callback != nil {
		callback()
	}

	logger.Info("exiting")
}
