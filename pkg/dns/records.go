package dns

import (
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/cuemby/burrow/pkg/discovery"
)

// recordTTL is deliberately short so clients re-query as endpoint sets
// change.
const recordTTL = 10

// recordResolver turns discovery endpoint sets into DNS resource records
type recordResolver struct {
	discovery *discovery.Resolver
	domain    string

	mu  sync.Mutex
	rnd *rand.Rand
}

func newRecordResolver(d *discovery.Resolver, domain string) *recordResolver {
	return &recordResolver{
		discovery: d,
		domain:    domain,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// resolve answers a service-name A query with one record per live endpoint,
// shuffled so resolver-side round-robin spreads load
func (r *recordResolver) resolve(queryName string) ([]dns.RR, error) {
	name := strings.TrimSuffix(queryName, ".")
	serviceName := strings.TrimSuffix(name, "."+r.domain)

	endpoints, err := r.discovery.Resolve(serviceName)
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, ep := range endpoints {
		host, _, err := net.SplitHostPort(ep.Addr)
		if err != nil {
			host = ep.Addr
		}
		if ip := net.ParseIP(host); ip != nil && ip.To4() != nil {
			ips = append(ips, ip.To4())
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no addressable endpoints for service %s", serviceName)
	}

	r.mu.Lock()
	r.rnd.Shuffle(len(ips), func(i, j int) {
		ips[i], ips[j] = ips[j], ips[i]
	})
	r.mu.Unlock()

	fqdn := dns.Fqdn(name)
	records := make([]dns.RR, 0, len(ips))
	for _, ip := range ips {
		records = append(records, &dns.A{
			Hdr: dns.RR_Header{
				Name:   fqdn,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    recordTTL,
			},
			A: ip,
		})
	}
	return records, nil
}
