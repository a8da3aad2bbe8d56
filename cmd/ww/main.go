// Command ww moves a byte stream between two machines that share a short code. It also runs the
// relay both sides meet on and can probe the NAT of the local network
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/bombsimon/logrusr/v4"
	"github.com/go-logr/logr"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const usage = `usage: ww <command> [arguments]

commands:
  pipe [code]   send stdin to the peer and print what it sends; without a code a new one is created
  relay         run a relay server
  nat           report the NAT type of this network using STUN servers
  complete      list the codes that complete a partially typed one
`

type command func(args []string, logger *logrus.Logger) error

var commands = map[string]command{
	"pipe":     runPipe,
	"relay":    runRelay,
	"nat":      runNAT,
	"complete": runComplete,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "ww: unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	if err := cmd(os.Args[2:], logger); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logger.Errorf("%s: %v", os.Args[1], err)
		os.Exit(1)
	}
}

// newFlagSet returns the flag set of a command with the flags every command shares
func newFlagSet(name string) (*pflag.FlagSet, *bool) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	verbose := fs.BoolP("verbose", "v", false, "log progress of the session")
	return fs, verbose
}

// newLogger bridges logger into logr. Verbose enables the V(1) progress messages of the libraries
func newLogger(logger *logrus.Logger, verbose bool) logr.Logger {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logrusr.New(logger)
}
