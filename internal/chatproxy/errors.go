package chatproxy

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// classifyTransportError buckets an upstream failure into the stable error
// classes the feed carries. DNS failures win over their timeout flavor.
func classifyTransportError(err error) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns_error"
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "connection_refused"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "transport_error"
}
