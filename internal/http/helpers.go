package http

import (
	"net"
	"net/netip"
	"strings"
)

// loopbackAddr reports whether remote (host:port or bare host) is a loopback
// address. IPv4-mapped IPv6 addresses count.
func loopbackAddr(remote string) bool {
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return ip.Unmap().IsLoopback()
}

// localHostHeader reports whether the Host header names this machine, which
// keeps DNS-rebound pages from reaching the agent.
func localHostHeader(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(strings.ToLower(host), "[]")
	if host == "localhost" {
		return true
	}
	return loopbackAddr(host)
}
