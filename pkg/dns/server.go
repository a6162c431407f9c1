package dns

import (
	"context"
	"fmt"
	"sync"

	"github.com/miekg/dns"

	"github.com/cuemby/burrow/pkg/discovery"
	"github.com/cuemby/burrow/pkg/log"
)

const (
	// DefaultListenAddr is the default DNS listen address
	DefaultListenAddr = "127.0.0.1:5300"

	// DefaultDomain is the default search domain for service names
	DefaultDomain = "burrow"

	// DefaultUpstream is the fallback DNS server for external queries
	DefaultUpstream = "8.8.8.8:53"
)

// Server answers A queries for service names out of the discovery view and
// forwards everything else upstream.
type Server struct {
	resolver   *recordResolver
	dnsServer  *dns.Server
	listenAddr string
	upstream   []string

	mu      sync.RWMutex
	running bool
}

// Config holds DNS server configuration
type Config struct {
	ListenAddr string
	Domain     string
	Upstream   []string
}

// NewServer creates a DNS server over the given discovery resolver
func NewServer(resolver *discovery.Resolver, config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	if config.ListenAddr == "" {
		config.ListenAddr = DefaultListenAddr
	}
	if config.Domain == "" {
		config.Domain = DefaultDomain
	}
	if len(config.Upstream) == 0 {
		config.Upstream = []string{DefaultUpstream}
	}

	return &Server{
		resolver:   newRecordResolver(resolver, config.Domain),
		listenAddr: config.ListenAddr,
		upstream:   config.Upstream,
	}
}

// Start starts the DNS server
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("DNS server already running")
	}
	s.running = true
	s.mu.Unlock()

	logger := log.WithComponent("dns")
	logger.Info().Str("address", s.listenAddr).Msg("Starting DNS server")

	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handleQuery)

	s.dnsServer = &dns.Server{
		Addr:    s.listenAddr,
		Net:     "udp",
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.dnsServer.ListenAndServe(); err != nil {
			logger.Error().Err(err).Msg("DNS server error")
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		return s.Stop()
	default:
		return nil
	}
}

// Stop stops the DNS server
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	if s.dnsServer != nil {
		if err := s.dnsServer.Shutdown(); err != nil {
			return err
		}
	}
	s.running = false
	return nil
}

// IsRunning reports whether the server is accepting queries
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) handleQuery(w dns.ResponseWriter, r *dns.Msg) {
	logger := log.WithComponent("dns")

	msg := &dns.Msg{}
	msg.SetReply(r)
	msg.Authoritative = true

	for _, q := range r.Question {
		if q.Qtype != dns.TypeA {
			s.forward(w, r)
			return
		}

		answers, err := s.resolver.resolve(q.Name)
		if err != nil {
			logger.Debug().Err(err).Str("query", q.Name).Msg("Not a service name, forwarding upstream")
			s.forward(w, r)
			return
		}
		msg.Answer = append(msg.Answer, answers...)
	}

	if err := w.WriteMsg(msg); err != nil {
		logger.Error().Err(err).Msg("Failed to write DNS response")
	}
}

// forward relays a query to the upstream servers, answering SERVFAIL only
// when all of them fail
func (s *Server) forward(w dns.ResponseWriter, r *dns.Msg) {
	logger := log.WithComponent("dns")
	client := &dns.Client{Net: "udp"}

	for _, upstream := range s.upstream {
		resp, _, err := client.Exchange(r, upstream)
		if err != nil {
			logger.Debug().Err(err).Str("upstream", upstream).Msg("Upstream query failed")
			continue
		}
		if err := w.WriteMsg(resp); err != nil {
			logger.Error().Err(err).Msg("Failed to write forwarded DNS response")
		}
		return
	}

	msg := &dns.Msg{}
	msg.SetReply(r)
	msg.Rcode = dns.RcodeServerFailure
	if err := w.WriteMsg(msg); err != nil {
		logger.Error().Err(err).Msg("Failed to write DNS error response")
	}
}
