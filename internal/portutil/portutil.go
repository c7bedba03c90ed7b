package portutil

import (
	"fmt"
	"net"
	"strconv"
)

// Listen binds addr. When its port is taken it tries the following ports,
// maxAttempts in total, before letting the OS assign one. Port 0 always
// goes straight to the OS. The chosen address is on the returned listener.
func Listen(addr string, maxAttempts int) (net.Listener, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("parsing listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parsing port in %q: %w", addr, err)
	}
	if port == 0 {
		return net.Listen("tcp", addr)
	}

	for i := range maxAttempts {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port+i)))
		if err == nil {
			return l, nil
		}
	}
	return net.Listen("tcp", net.JoinHostPort(host, "0"))
}
