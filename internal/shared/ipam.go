// Package shared implements the services the supervisor and plugin
// dispatcher both depend on but that aren't themselves container
// lifecycle logic: the IPv4 address pool, per-container metadata,
// the device allowlist, a timer queue, and the namespace-entry helper.
package shared

import (
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"github.com/vishvananda/netlink"
)

// addressesPerRange is the number of host addresses handed out per /24:
// base+2 through base+251. base+1 is reserved for the bridge itself.
const addressesPerRange = 250

// AddressPool is a FIFO pool of IPv4 addresses drawn from a single /24,
// guarded by one mutex as required of every shared-service table.
type AddressPool struct {
	mu           sync.Mutex
	free         []net.IP
	reservations map[string]string // addr.String() -> veth name
	log          zerolog.Logger
}

// NewAddressPool seeds the pool with base+2..base+251 from networkRange,
// an IPv4 /24 in CIDR or bare dotted-quad form.
func NewAddressPool(networkRange string, log zerolog.Logger) (*AddressPool, error) {
	base, err := parseRangeBase(networkRange)
	if err != nil {
		return nil, err
	}

	p := &AddressPool{
		reservations: make(map[string]string),
		log:          log,
	}
	for i := 2; i <= addressesPerRange+1; i++ {
		p.free = append(p.free, offsetIP(base, i))
	}
	return p, nil
}

func parseRangeBase(s string) (net.IP, error) {
	if ip, ipnet, err := net.ParseCIDR(s); err == nil {
		return ip.Mask(ipnet.Mask), nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid network range %q", s)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("network range %q is not IPv4", s)
	}
	return ip4.Mask(net.CIDRMask(24, 32)), nil
}

func offsetIP(base net.IP, offset int) net.IP {
	ip := make(net.IP, len(base))
	copy(ip, base)
	ip[len(ip)-1] += byte(offset)
	return ip
}

// GetIPAddress pops the head of the free queue, records it against
// vethName, and returns it. If vethSanityCheck is true the veth device
// must already exist on the host (a plugin authoring error otherwise).
func (p *AddressPool) GetIPAddress(vethName string, vethSanityCheck bool) (net.IP, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if vethSanityCheck {
		if _, err := netlink.LinkByName(vethName); err != nil {
			return nil, fmt.Errorf("veth %q does not exist: %w", vethName, err)
		}
	}

	if len(p.free) == 0 {
		return nil, fmt.Errorf("address pool exhausted")
	}
	addr := p.free[0]
	p.free = p.free[1:]
	p.reservations[addr.String()] = vethName
	return addr, nil
}

// FreeIPAddress unregisters addr and pushes it back onto the tail of
// the free queue. Freeing an address not currently reserved is a no-op.
func (p *AddressPool) FreeIPAddress(addr net.IP) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := addr.String()
	if _, ok := p.reservations[key]; !ok {
		return
	}
	delete(p.reservations, key)
	p.free = append(p.free, addr)
}

// BridgeConnections returns 250 minus the number of free addresses
// remaining, i.e. the count currently leased out.
func (p *AddressPool) BridgeConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return addressesPerRange - len(p.free)
}
