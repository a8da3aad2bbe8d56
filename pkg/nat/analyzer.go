// Package nat guesses the kind of NAT in front of a peer from its ICE candidates. The guess is
// advisory only and never affects the connection itself
package nat

import (
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/sdp/v3"
)

type Type int

const (
	// Unknown means no server reflexive candidate was seen, ICE is disabled or STUN is blocked
	Unknown Type = iota
	// ConeOrNone means every local port maps to a single external port
	ConeOrNone
	// Symmetric means a local port maps to several external ports
	Symmetric
)

func (t Type) String() string {
	switch t {
	case ConeOrNone:
		return "1:1 port mapping"
	case Symmetric:
		return "1:n port mapping (bad news)"
	default:
		return "ice disabled or stun blocked"
	}
}

// Report summarizes the UDP candidates of a session description
type Report struct {
	Candidates int
	Host       int
	Srflx      int
	Type       Type
}

// PortMap groups the external ports observed for each local port
type PortMap map[int]map[int]struct{}

func (m PortMap) Add(local, external int) {
	ports, ok := m[local]
	if !ok {
		ports = make(map[int]struct{})
		m[local] = ports
	}
	ports[external] = struct{}{}
}

// Classify decides the NAT type from the largest group of external ports sharing a local port
func (m PortMap) Classify() Type {
	largest := 0
	for _, ports := range m {
		largest = max(largest, len(ports))
	}

	switch {
	case largest == 0:
		return Unknown
	case largest == 1:
		return ConeOrNone
	default:
		return Symmetric
	}
}

// Analyze inspects every candidate of the session description. Candidates that cannot be parsed and
// non UDP candidates are skipped
func Analyze(description string) Report {
	var report Report
	portmap := make(PortMap)

	for _, raw := range candidateLines(description) {
		candidate, err := ice.UnmarshalCandidate(raw)
		if err != nil {
			continue
		}

		if !candidate.NetworkType().IsUDP() {
			continue
		}

		report.Candidates++

		switch candidate.Type() {
		case ice.CandidateTypeHost:
			report.Host++
		case ice.CandidateTypeServerReflexive:
			report.Srflx++

			local := 0
			if related := candidate.RelatedAddress(); related != nil {
				local = related.Port
			}
			portmap.Add(local, candidate.Port())
		default:
		}
	}

	report.Type = portmap.Classify()

	return report
}

// candidateLines returns the values of all candidate attributes. Descriptions that do not parse as
// a whole are scanned line by line
func candidateLines(description string) []string {
	var parsed sdp.SessionDescription
	if err := parsed.UnmarshalString(description); err != nil {
		return scanCandidates(description)
	}

	var lines []string
	collect := func(attributes []sdp.Attribute) {
		for _, attr := range attributes {
			if attr.Key == "candidate" {
				lines = append(lines, attr.Value)
			}
		}
	}

	collect(parsed.Attributes)
	for _, media := range parsed.MediaDescriptions {
		collect(media.Attributes)
	}

	return lines
}

func scanCandidates(description string) []string {
	var lines []string

	for _, line := range strings.Split(strings.ReplaceAll(description, "\r", ""), "\n") {
		if value, ok := strings.CutPrefix(line, "a=candidate:"); ok {
			lines = append(lines, value)
		}
	}

	return lines
}
