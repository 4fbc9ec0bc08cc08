package netutil

import (
	"fmt"
	"net"
	"strings"
)

// SelectBindAddr picks an available bind address: preferred first, then the
// candidates in order. A candidate may be a bare port, which is bound on the
// preferred host. With autoFallback and every candidate busy, an ephemeral
// port on the preferred host is used.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	host := "127.0.0.1"
	if preferred != "" {
		if h, _, err := net.SplitHostPort(preferred); err == nil && h != "" {
			host = h
		}
		ok, err := IsAddrAvailable(preferred)
		if err != nil {
			return "", err
		}
		if ok {
			return preferred, nil
		}
		if !autoFallback {
			return "", fmt.Errorf("preferred bind address in use: %s", preferred)
		}
	}

	tried := []string{preferred}
	for _, addr := range candidates {
		addr = expandCandidate(host, addr)
		tried = append(tried, addr)
		ok, err := IsAddrAvailable(addr)
		if err != nil {
			return "", err
		}
		if ok {
			return addr, nil
		}
	}

	if autoFallback {
		return ephemeralAddr(host)
	}
	return "", fmt.Errorf("no available bind address (tried %s)", strings.Join(tried, ", "))
}

func expandCandidate(host, addr string) string {
	addr = strings.TrimSpace(addr)
	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(host, addr)
	}
	return addr
}

// ephemeralAddr asks the kernel for a free port on host. The port is released
// before returning, so another process may still take it.
func ephemeralAddr(host string) (string, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return "", fmt.Errorf("no available bind address on %s: %w", host, err)
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		return "", err
	}
	return addr, nil
}

// IsAddrAvailable returns true when an address can be listened on.
func IsAddrAvailable(addr string) (bool, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false, nil
	}
	if closeErr := ln.Close(); closeErr != nil {
		return false, closeErr
	}
	return true, nil
}
