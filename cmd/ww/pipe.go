package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/sirupsen/logrus"

	"github.com/yago-123/wormhole/pkg/nat"
	"github.com/yago-123/wormhole/pkg/wormhole"
)

const DefaultRelayURL = "http://localhost:8080"

func runPipe(args []string, logger *logrus.Logger) error {
	fs, verbose := newFlagSet("pipe")
	relayURL := fs.StringP("relay", "r", DefaultRelayURL, "relay to meet the peer on")
	qr := fs.Bool("qr", false, "also print the code as a QR code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	log := newLogger(logger, *verbose).WithName("pipe")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := []wormhole.Option{
		wormhole.WithLogger(log),
		wormhole.WithNATReport(func(r nat.Report) {
			if r.Type == nat.Symmetric {
				fmt.Fprintln(os.Stderr, r.Type)
			}
		}),
	}

	w, err := open(ctx, fs.Args(), *relayURL, *qr, opts)
	if err != nil {
		return err
	}

	conn, err := connect(ctx, w)
	if err != nil {
		return err
	}

	// The relay is not needed once the data channel is up
	w.Close()
	if _, errDone := w.Done.Wait(ctx); errDone != nil {
		log.V(1).Info("Relay session ended with error", "error", errDone.Error())
	}

	return pipe(ctx, conn, os.Stdin, os.Stdout, log)
}

// open creates a new slot and prints its code, or joins the slot of the code given in args
func open(ctx context.Context, args []string, relayURL string, qr bool, opts []wormhole.Option) (*wormhole.Wormhole, error) {
	switch len(args) {
	case 0:
		w := wormhole.New(ctx, relayURL, opts...)

		code, err := w.Code.Wait(ctx)
		if err != nil {
			return nil, err
		}
		if errPrint := printCode(os.Stderr, code, qr); errPrint != nil {
			return nil, errPrint
		}

		return w, nil
	case 1:
		return wormhole.Join(ctx, relayURL, args[0], opts...)
	default:
		return nil, fmt.Errorf("expected at most one code, got %d arguments", len(args))
	}
}

// connect waits for the data channel, giving up as soon as the session fails
func connect(ctx context.Context, w *wormhole.Wormhole) (net.Conn, error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-w.Done.Done():
			if w.Done.Err() != nil {
				cancel()
			}
		case <-connCtx.Done():
		}
	}()

	conn, err := w.Conn(connCtx)
	if err != nil {
		if errDone := w.Done.Err(); errDone != nil {
			return nil, errDone
		}
		return nil, err
	}

	return conn, nil
}

// pipe copies in to conn and conn to out until either direction ends
func pipe(ctx context.Context, conn net.Conn, in io.Reader, out io.Writer, log logr.Logger) error {
	errCh := make(chan error, 2)

	go func() {
		_, err := io.Copy(conn, in)
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(out, conn)
		errCh <- err
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}

	// Close flushes what is still buffered towards the peer
	if errClose := conn.Close(); errClose != nil {
		log.V(1).Info("Closing data channel failed", "error", errClose.Error())
	}

	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
