package imap

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// IMAP servers of common providers
var knownServers = map[string]string{
	"gmail.com":      "imap.gmail.com:993",
	"googlemail.com": "imap.gmail.com:993",
	"outlook.com":    "outlook.office365.com:993",
	"hotmail.com":    "outlook.office365.com:993",
	"live.com":       "outlook.office365.com:993",
	"yahoo.com":      "imap.mail.yahoo.com:993",
	"icloud.com":     "imap.mail.me.com:993",
	"me.com":         "imap.mail.me.com:993",
	"aol.com":        "imap.aol.com:993",
	"zoho.com":       "imap.zoho.com:993",
	"fastmail.com":   "imap.fastmail.com:993",
	"gmx.com":        "imap.gmx.com:993",
	"proton.me":      "127.0.0.1:1143", // ProtonMail Bridge
	"protonmail.com": "127.0.0.1:1143",
}

// Resolver guesses the IMAP server for a mailbox address
type Resolver struct {
	probe    func(ctx context.Context, address string) bool
	lookupMX func(ctx context.Context, domain string) ([]*net.MX, error)
}

// NewResolver creates a resolver that probes candidate hosts over TCP
func NewResolver() *Resolver {
	return &Resolver{
		probe:    dialProbe,
		lookupMX: net.DefaultResolver.LookupMX,
	}
}

// Resolve returns host:port for the address: known providers first,
// then imap./mail. hosts of the domain, then hosts next to the primary MX
func (r *Resolver) Resolve(ctx context.Context, address string) (string, error) {
	domain := DomainOf(address)
	if domain == "" {
		return "", fmt.Errorf("invalid email format")
	}

	if server, ok := knownServers[domain]; ok {
		return server, nil
	}

	for _, host := range []string{"imap." + domain, "mail." + domain, domain} {
		if server := host + ":993"; r.probe(ctx, server) {
			return server, nil
		}
	}

	if server, ok := r.viaMX(ctx, domain); ok {
		return server, nil
	}

	return "imap." + domain + ":993", nil
}

// viaMX derives imap./mail. hosts from the primary MX record's parent domain
func (r *Resolver) viaMX(ctx context.Context, domain string) (string, bool) {
	records, err := r.lookupMX(ctx, domain)
	if err != nil || len(records) == 0 {
		return "", false
	}

	mxHost := strings.TrimSuffix(records[0].Host, ".")
	_, parent, found := strings.Cut(mxHost, ".")
	if !found {
		return "", false
	}

	for _, host := range []string{"imap." + parent, "mail." + parent} {
		if server := host + ":993"; r.probe(ctx, server) {
			return server, true
		}
	}
	return "", false
}

// DomainOf extracts the lowercased domain from an address
func DomainOf(address string) string {
	local, domain, found := strings.Cut(address, "@")
	if !found || local == "" || domain == "" || strings.Contains(domain, "@") {
		return ""
	}
	return strings.ToLower(domain)
}

func dialProbe(ctx context.Context, address string) bool {
	dialer := &net.Dialer{Timeout: 3 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
