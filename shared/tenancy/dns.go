package tenancy

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edutech/lms-tenancy/shared/models"
	"github.com/edutech/lms-tenancy/shared/utils"
)

// DNSResolver performs the live lookups behind domain ownership
// verification. The net-backed implementation talks to real DNS; tests
// use StaticDNSResolver.
type DNSResolver interface {
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// NetDNSResolver resolves against the system DNS
type NetDNSResolver struct {
	resolver *net.Resolver
}

func NewNetDNSResolver() *NetDNSResolver {
	return &NetDNSResolver{resolver: net.DefaultResolver}
}

func (r *NetDNSResolver) LookupCNAME(ctx context.Context, host string) (string, error) {
	return r.resolver.LookupCNAME(ctx, host)
}

func (r *NetDNSResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	return r.resolver.LookupTXT(ctx, name)
}

// StaticDNSResolver serves lookups from fixed maps. Used in tests and
// when the platform runs without outbound DNS.
type StaticDNSResolver struct {
	CNAMEs map[string]string
	TXTs   map[string][]string
}

func (r *StaticDNSResolver) LookupCNAME(_ context.Context, host string) (string, error) {
	target, ok := r.CNAMEs[host]
	if !ok {
		return "", &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return target, nil
}

func (r *StaticDNSResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	records, ok := r.TXTs[name]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}
	return records, nil
}

// DomainVerifier checks a domain's stored DNS record set against live
// DNS. Lookups go through a circuit breaker so a flapping resolver does
// not hammer verification retries.
type DomainVerifier struct {
	dns     DNSResolver
	breaker *utils.CircuitBreaker
	log     *logrus.Entry
}

// NewDomainVerifier creates a verifier over the given DNS resolver
func NewDomainVerifier(dns DNSResolver) *DomainVerifier {
	return &DomainVerifier{
		dns:     dns,
		breaker: utils.NewCircuitBreaker(5, 30*time.Second),
		log:     logrus.WithField("component", "domain_verifier"),
	}
}

// Verify reports whether every expected DNS record of the domain is
// present in live DNS. A failed lookup counts as unverified, never as an
// error; verification is safe to retry.
func (v *DomainVerifier) Verify(ctx context.Context, domain *models.TenantDomain) bool {
	for _, record := range domain.DNSRecords {
		ok := false
		err := v.breaker.Call(func() error {
			var lookupErr error
			ok, lookupErr = v.checkRecord(ctx, record)
			return lookupErr
		})
		if err != nil {
			v.log.WithError(err).WithFields(logrus.Fields{
				"domain": domain.Domain,
				"record": record.Name,
			}).Warn("DNS lookup failed during verification")
			return false
		}
		if !ok {
			v.log.WithFields(logrus.Fields{
				"domain": domain.Domain,
				"type":   record.Type,
				"record": record.Name,
			}).Info("Expected DNS record not found")
			return false
		}
	}
	return true
}

func (v *DomainVerifier) checkRecord(ctx context.Context, record models.DNSRecord) (bool, error) {
	switch record.Type {
	case "CNAME":
		target, err := v.dns.LookupCNAME(ctx, record.Name)
		if err != nil {
			if dnsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return strings.TrimSuffix(target, ".") == strings.TrimSuffix(record.Value, "."), nil
	case "TXT":
		records, err := v.dns.LookupTXT(ctx, record.Name)
		if err != nil {
			if dnsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		for _, txt := range records {
			if txt == record.Value {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, nil
	}
}

func dnsNotFound(err error) bool {
	dnsErr, ok := err.(*net.DNSError)
	return ok && dnsErr.IsNotFound
}
