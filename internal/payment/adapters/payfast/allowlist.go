package payfast

import (
	"fmt"
	"net/netip"
	"strings"
)

// allowList holds the gateway's notification source ranges.
type allowList struct {
	prefixes []netip.Prefix
}

func newAllowList(cidrs []string) (*allowList, error) {
	list := &allowList{prefixes: make([]netip.Prefix, 0, len(cidrs))}
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("parse allowed ip %q: %w", raw, err)
			}
			list.prefixes = append(list.prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("parse allowed cidr %q: %w", raw, err)
		}
		list.prefixes = append(list.prefixes, prefix.Masked())
	}
	return list, nil
}

func (l *allowList) Contains(ip string) bool {
	if l == nil {
		return false
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range l.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
