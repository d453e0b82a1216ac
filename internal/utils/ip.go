package utils

import (
	"fmt"
	"net"
)

// ParseCIDRs parses every entry up front so a typo in ADMIN_ALLOWED_CIDRS fails startup.
func ParseCIDRs(cidrs []string) ([]*net.IPNet, error) {
	blocks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// IsAllowedIP reports whether ip falls inside one of the blocks. An empty list allows nothing.
func IsAllowedIP(ip string, blocks []*net.IPNet) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}

	for _, block := range blocks {
		if block.Contains(parsed) {
			return true
		}
	}
	return false
}
