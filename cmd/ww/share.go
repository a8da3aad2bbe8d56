package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"

	"github.com/yago-123/wormhole/pkg/code"
)

// printCode writes the pairing code, followed by a QR code of it to scan from a phone if qr is set
func printCode(out io.Writer, pairingCode string, qr bool) error {
	if _, err := fmt.Fprintln(out, pairingCode); err != nil {
		return err
	}

	if !qr {
		return nil
	}

	q, err := qrcode.New(pairingCode, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("encode qr code: %w", err)
	}

	_, err = io.WriteString(out, q.ToSmallString(false))
	return err
}

// completions returns the codes that extend the last word of partial, for shell completion
func completions(partial string) []string {
	i := strings.LastIndexAny(partial, "- ")
	if i < 0 {
		// The slot number comes first and cannot be completed
		return nil
	}

	prefix, word := partial[:i+1], partial[i+1:]

	matches := code.Match(word)
	for j, m := range matches {
		matches[j] = prefix + m
	}

	return matches
}

func runComplete(args []string, _ *logrus.Logger) error {
	fs, _ := newFlagSet("complete")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() != 1 {
		return fmt.Errorf("expected the partial code, got %d arguments", fs.NArg())
	}

	for _, c := range completions(fs.Arg(0)) {
		fmt.Println(c)
	}

	return nil
}
