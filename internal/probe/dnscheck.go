package probe

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

const (
	dnsClassResolves    = "RESOLVES"
	dnsClassNXDomain    = "NXDOMAIN"
	dnsClassServfail    = "SERVFAIL_or_TIMEOUT"
	dnsClassInvalidName = "INVALID_NAME"
)

// DNSStatus is a best-effort diagnostic attached to connection errors so
// operators can tell a dead host from a dead DNS record.
type DNSStatus struct {
	Domain        string
	HasAOrAAAA    bool
	IPs           []net.IP
	CNAME         string
	Class         string
	ResolverError string
}

var dnsTimeout = 3 * time.Second

func ClassifyDNS(domain string) DNSStatus {
	s := DNSStatus{Domain: strings.TrimSpace(domain)}
	if s.Domain == "" || strings.Contains(s.Domain, "://") {
		s.Class = dnsClassInvalidName
		return s
	}

	ctx, cancel := context.WithTimeout(context.Background(), dnsTimeout)
	defer cancel()
	r := &net.Resolver{} // OS resolver

	ips, err := r.LookupIP(ctx, "ip", s.Domain)
	if err == nil && len(ips) > 0 {
		s.HasAOrAAAA = true
		s.IPs = ips
		s.Class = dnsClassResolves
	} else if err != nil {
		var de *net.DNSError
		s.ResolverError = err.Error()
		if errors.As(err, &de) {
			if de.IsNotFound {
				s.Class = dnsClassNXDomain
			} else if de.IsTemporary || de.Timeout() {
				s.Class = dnsClassServfail
			}
		}
	}

	if cname, err := r.LookupCNAME(ctx, s.Domain); err == nil && !strings.EqualFold(cname, s.Domain+".") {
		s.CNAME = strings.TrimSuffix(cname, ".")
	}

	return s
}
