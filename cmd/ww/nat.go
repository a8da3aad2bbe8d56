package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yago-123/wormhole/pkg/nat"
)

func runNAT(args []string, logger *logrus.Logger) error {
	fs, verbose := newFlagSet("nat")
	servers := fs.StringSliceP("stun", "s", DefaultSTUNServers, "STUN servers to query, host:port")
	timeout := fs.Duration("timeout", 10*time.Second, "time allowed for the whole probe")
	if err := fs.Parse(args); err != nil {
		return err
	}
	log := newLogger(logger, *verbose).WithName("nat")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := nat.Probe(ctx, *servers)
	if err != nil {
		return err
	}

	for _, m := range result.Mappings {
		log.V(1).Info("Mapped address", "server", m.Server, "address", m.Addr.String())
		fmt.Fprintf(os.Stdout, "%-30s %d -> %s\n", m.Server, result.LocalPort, m.Addr)
	}
	fmt.Fprintln(os.Stdout, result.Type)

	return nil
}
