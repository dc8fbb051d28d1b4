package config

import (
	"fmt"
	"net"
	"regexp"
	"strconv"

	"harnessbot/harness/pkg/format"
)

// Protocol identifies a control link transport.
type Protocol int

const (
	ProtoInvalid Protocol = iota
	ProtoTCP
	ProtoWS
	ProtoWSS
	ProtoUDP
)

// String returns the protocol as it appears in listen specs.
func (p Protocol) String() string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoWS:
		return "ws"
	case ProtoWSS:
		return "wss"
	case ProtoUDP:
		return "udp"
	default:
		return ""
	}
}

// ListenSpec is a parsed control address, e.g. "tcp://127.0.0.1:7700".
type ListenSpec struct {
	Protocol Protocol
	Host     string // "" binds all interfaces
	Port     int
}

var listenRe = regexp.MustCompile(`^(tcp|ws|wss|udp)://([^:]*):(\d+)$`)

// ParseListenSpec parses a control address of the form "protocol://host:port"
// where protocol is one of tcp, ws, wss or udp. The host may be empty or "*"
// to bind all interfaces.
func ParseListenSpec(s string) (ListenSpec, error) {
	matches := listenRe.FindStringSubmatch(s)
	if len(matches) != 4 {
		return ListenSpec{}, specError(s)
	}

	var spec ListenSpec
	switch matches[1] {
	case "tcp":
		spec.Protocol = ProtoTCP
	case "ws":
		spec.Protocol = ProtoWS
	case "wss":
		spec.Protocol = ProtoWSS
	case "udp":
		spec.Protocol = ProtoUDP
	}

	spec.Host = matches[2]
	if spec.Host == "*" { // also counts as all interfaces
		spec.Host = ""
	}

	port, err := strconv.Atoi(matches[3])
	if err != nil || validatePort(port) != nil {
		return ListenSpec{}, specError(s)
	}
	spec.Port = port

	return spec, nil
}

// Addr returns the host:port part of the spec, IPv6 hosts bracketed.
func (s ListenSpec) Addr() string {
	return format.Addr(s.Host, s.Port)
}

// Loopback reports whether the spec binds a loopback address. Binding all
// interfaces is not loopback.
func (s ListenSpec) Loopback() bool {
	if s.Host == "" {
		return false
	}
	if s.Host == "localhost" {
		return true
	}

	ip := net.ParseIP(s.Host)

	return ip != nil && ip.IsLoopback()
}

func specError(s string) error {
	return fmt.Errorf("parsing %s: format should be 'protocol://host:port', where protocol = tcp|ws|wss|udp", s)
}
