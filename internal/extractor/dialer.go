package extractor

import (
	"fmt"
	"net"
	"net/netip"
	"syscall"
	"time"
)

const dialTimeout = 5 * time.Second

// Ranges not covered by the netip predicates.
var (
	thisNetwork = netip.MustParsePrefix("0.0.0.0/8")
	sharedCGNAT = netip.MustParsePrefix("100.64.0.0/10")
)

// errBlockedAddr rejects a page whose host resolves into a local network.
type errBlockedAddr struct{ addr netip.Addr }

func (e errBlockedAddr) Error() string {
	return fmt.Sprintf("fetching pages from %s is not allowed", e.addr)
}

// isPrivateAddr reports whether addr is loopback, private, link-local or
// otherwise not a public unicast address.
func isPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return !addr.IsValid() ||
		addr.IsUnspecified() ||
		addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() ||
		thisNetwork.Contains(addr) ||
		sharedCGNAT.Contains(addr)
}

// guardDial runs after DNS resolution on every address the dialer tries, so
// a host that resolves to both public and private addresses, or rebinds
// between lookups, still cannot reach a local service.
func guardDial(network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	if isPrivateAddr(ap.Addr()) {
		return errBlockedAddr{addr: ap.Addr()}
	}
	return nil
}

// newPublicDialer returns a dialer that only connects to public addresses.
func newPublicDialer() *net.Dialer {
	return &net.Dialer{Timeout: dialTimeout, Control: guardDial}
}
