/*
 * Written in 2019 by Andrew Ayer.
 * Patched 2025, Gander Social PBC.
 *
 * Original: https://www.agwa.name/blog/post/preventing_server_side_request_forgery_in_golang
 *
 * To the extent possible under law, the author(s) have dedicated all
 * copyright and related and neighboring rights to this software to the
 * public domain worldwide. This software is distributed without any
 * warranty.
 *
 * You should have received a copy of the CC0 Public
 * Domain Dedication along with this software. If not, see
 * <https://creativecommons.org/publicdomain/zero/1.0/>.
 */

// Package ssrf has HTTP plumbing which refuses to connect to non-public network addresses. Login clients dereference URLs taken from domain records controlled by arbitrary third parties, so those fetches go through here.
//
// Approach follows https://www.agwa.name/blog/post/preventing_server_side_request_forgery_in_golang: the check happens in the dialer's Control hook, after DNS resolution, so it can't be bypassed with a hostname pointing at a private address.
package ssrf

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"slices"
	"syscall"
	"time"
)

var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),       // current network
	netip.MustParsePrefix("10.0.0.0/8"),      // private
	netip.MustParsePrefix("100.64.0.0/10"),   // carrier-grade NAT
	netip.MustParsePrefix("127.0.0.0/8"),     // loopback
	netip.MustParsePrefix("169.254.0.0/16"),  // link-local
	netip.MustParsePrefix("172.16.0.0/12"),   // private
	netip.MustParsePrefix("192.0.0.0/24"),    // IETF protocol assignments
	netip.MustParsePrefix("192.0.2.0/24"),    // documentation
	netip.MustParsePrefix("192.88.99.0/24"),  // 6to4 relay
	netip.MustParsePrefix("192.168.0.0/16"),  // private
	netip.MustParsePrefix("198.18.0.0/15"),   // benchmarking
	netip.MustParsePrefix("198.51.100.0/24"), // documentation
	netip.MustParsePrefix("203.0.113.0/24"),  // documentation
	netip.MustParsePrefix("224.0.0.0/4"),     // multicast
	netip.MustParsePrefix("240.0.0.0/4"),     // reserved, broadcast
}

// only 2000::/3 is allocated for global unicast
var globalUnicastIPv6 = netip.MustParsePrefix("2000::/3")

// Ports that outbound fetches may use
var AllowedPorts = []string{"80", "443"}

func IsPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.Is4() {
		for _, p := range reservedPrefixes {
			if p.Contains(addr) {
				return false
			}
		}
		return true
	}
	return globalUnicastIPv6.Contains(addr)
}

// Implementation of the [net.Dialer] Control hook which rejects non-public addresses and ports other than [AllowedPorts].
func PublicOnlyControl(network string, address string, conn syscall.RawConn) error {
	if network != "tcp4" && network != "tcp6" {
		return fmt.Errorf("%s is not a safe network type", network)
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%s is not a valid host/port pair: %w", address, err)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%s is not a valid IP address", host)
	}
	if !IsPublicAddr(addr) {
		return fmt.Errorf("%s is not a public IP address", addr)
	}
	if !slices.Contains(AllowedPorts, port) {
		return fmt.Errorf("%s is not a safe port number", port)
	}
	return nil
}

func PublicOnlyDialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   PublicOnlyControl,
	}
}

// [http.Transport] with [PublicOnlyDialer]. Proxies are ignored, since a proxy would do the dialing.
func PublicOnlyTransport() *http.Transport {
	return &http.Transport{
		DialContext:           PublicOnlyDialer().DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// http.Client using [PublicOnlyTransport], with an overall request timeout and a cap on redirects.
func PublicOnlyClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: PublicOnlyTransport(),
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("stopped after %d redirects", len(via))
			}
			return nil
		},
	}
}
