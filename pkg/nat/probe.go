package nat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pion/stun"
)

const (
	UDPProtocol = "udp4"

	defaultProbeTimeout = 3 * time.Second
	maxPacketSize       = 1500
)

var ErrNoMapping = errors.New("no STUN server answered")

// Mapping is the external address one STUN server saw for the probing socket
type Mapping struct {
	Server string
	Addr   *net.UDPAddr
}

// ProbeResult is the outcome of probing several STUN servers from the same local port
type ProbeResult struct {
	LocalPort int
	Mappings  []Mapping
	Type      Type
}

// Probe sends a binding request to each server from a single UDP socket and classifies the NAT
// from the external ports reported back. Servers that do not answer within the timeout are skipped
func Probe(ctx context.Context, servers []string) (ProbeResult, error) {
	conn, err := net.ListenUDP(UDPProtocol, nil)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("listen udp: %w", err)
	}
	defer conn.Close()

	result := ProbeResult{LocalPort: conn.LocalAddr().(*net.UDPAddr).Port}
	portmap := make(PortMap)

	var lastErr error
	for _, server := range servers {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		mapped, errBinding := binding(ctx, conn, server)
		if errBinding != nil {
			lastErr = errBinding
			continue
		}

		result.Mappings = append(result.Mappings, Mapping{Server: server, Addr: mapped})
		portmap.Add(result.LocalPort, mapped.Port)
	}

	if len(result.Mappings) == 0 {
		if lastErr != nil {
			return result, fmt.Errorf("%w: %w", ErrNoMapping, lastErr)
		}
		return result, ErrNoMapping
	}

	result.Type = portmap.Classify()

	return result, nil
}

// binding performs one STUN binding request and returns the XOR-MAPPED-ADDRESS of the reply
func binding(ctx context.Context, conn *net.UDPConn, server string) (*net.UDPAddr, error) {
	serverAddr, err := net.ResolveUDPAddr(UDPProtocol, server)
	if err != nil {
		return nil, fmt.Errorf("resolve STUN server %s: %w", server, err)
	}

	request := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if _, errWrite := conn.WriteToUDP(request.Raw, serverAddr); errWrite != nil {
		return nil, fmt.Errorf("send binding request to %s: %w", server, errWrite)
	}

	deadline := time.Now().Add(defaultProbeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if errDeadline := conn.SetReadDeadline(deadline); errDeadline != nil {
		return nil, errDeadline
	}

	buf := make([]byte, maxPacketSize)
	for {
		n, from, errRead := conn.ReadFromUDP(buf)
		if errRead != nil {
			if errors.Is(errRead, os.ErrDeadlineExceeded) {
				return nil, fmt.Errorf("STUN server %s did not answer", server)
			}
			return nil, fmt.Errorf("read binding response from %s: %w", server, errRead)
		}

		// Late answers of previous servers share the socket
		if !from.IP.Equal(serverAddr.IP) || from.Port != serverAddr.Port || !stun.IsMessage(buf[:n]) {
			continue
		}

		response := stun.New()
		response.Raw = append(response.Raw[:0], buf[:n]...)
		if errDecode := response.Decode(); errDecode != nil {
			return nil, fmt.Errorf("decode binding response from %s: %w", server, errDecode)
		}

		if response.TransactionID != request.TransactionID {
			continue
		}

		var xorAddr stun.XORMappedAddress
		if errGet := xorAddr.GetFrom(response); errGet != nil {
			return nil, fmt.Errorf("failed to get XOR-MAPPED-ADDRESS: %w", errGet)
		}

		return &net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port}, nil
	}
}
