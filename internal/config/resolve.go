package config

import (
	"fmt"
	"net"
	"net/url"
)

// ResolveIPv4 turns user-supplied host text — a raw IPv4 address, a bare
// hostname, or a URL — into a dialable IPv4 address. It mirrors the
// original agent's QUrl::fromUserInput + QHostInfo DNS fallback: first try
// the text as a URL and take its host component, then try it as a literal
// IP, and only fall back to DNS resolution if that fails; of the
// resolved addresses, the first IPv4 one wins.
func ResolveIPv4(raw string) (string, error) {
	host := raw
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		if h := u.Hostname(); h != "" {
			host = h
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4.String(), nil
		}
		return "", fmt.Errorf("config: %s is not an IPv4 address", raw)
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		return "", fmt.Errorf("config: failed to resolve %s: %w", host, err)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil {
			if v4 := ip.To4(); v4 != nil {
				return v4.String(), nil
			}
		}
	}
	return "", fmt.Errorf("config: no IPv4 address found for %s", host)
}
