// Package safehttp builds upstream transports that refuse to dial private
// networks.
package safehttp

import (
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// DefaultDialTimeout bounds connection setup when none is configured.
const DefaultDialTimeout = 5 * time.Second

// NewTransport returns a clone of http.DefaultTransport whose dialer rejects
// loopback, private and link-local addresses. The check runs on the
// resolved address right before connect, so DNS answers cannot bypass it.
func NewTransport(dialTimeout time.Duration) *http.Transport {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			return CheckIP(net.ParseIP(host))
		},
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = dialer.DialContext
	return t
}

// CheckIP reports whether ip may be dialed.
func CheckIP(ip net.IP) error {
	if ip == nil {
		return fmt.Errorf("unparseable remote address")
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return fmt.Errorf("access to private IP %s is denied", ip)
	}
	return nil
}
