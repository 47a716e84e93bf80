package ugrpc

import (
	"fmt"
	"net"
)

func HostPort(address string, port string) string {
	return fmt.Sprintf("%s:///%s", "dns", net.JoinHostPort(address, port))
}

// Target turns a host:port address into a dns resolver target.
func Target(address string) (string, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", address, err)
	}
	if host == "" {
		host = "localhost"
	}
	return HostPort(host, port), nil
}
