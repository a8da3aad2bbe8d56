package client

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoint builds the websocket address of a relay slot from the relay base address. Plain http
// becomes ws, anything else becomes wss. An empty slot asks the relay to allocate one
func Endpoint(base, slot string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse relay address %q: %w", base, err)
	}

	if u.Host == "" {
		return "", fmt.Errorf("relay address %q has no host", base)
	}

	scheme := "wss"
	if u.Scheme == "http" {
		scheme = "ws"
	}

	path := u.Path + slot
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return scheme + "://" + u.Host + path, nil
}
