package socket

import "net"

func splitHostPort(addr string) (host, port string, err error) {
	return net.SplitHostPort(addr)
}
