package httpx

import (
	"net"
	"strconv"
)

// buildAddress joins the host of the address with the port of the listener.
//
// As example, address host.com:8080 and listener 123.123.123.123:8888 will be
// transformed to host.com:8888, zone x makes it x.host.com:8888.
func buildAddress(address string, zone string, l Listener) string {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		host = address
	}
	if host == "" {
		host = "localhost"
	}
	if zone != "" {
		host = zone + "." + host
	}
	if port := l.GetPort(); port > 0 && port != 80 && port != 443 {
		host += ":" + strconv.Itoa(port)
	}
	return host
}

func extractHost(address string) string {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return address
	}
	return host
}
