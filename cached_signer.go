package interceptor

import (
	"crypto/tls"
	"sync"
	"time"
)

type certEntry struct {
	cert      *tls.Certificate
	expiresAt time.Time
}

type certFlight struct {
	done chan struct{}
	cert *tls.Certificate
	err  error
}

// cachedSigner hands out forged certificates per hostname. With a zero size
// every call forges a fresh certificate. Concurrent requests for the same
// host share one forging.
type cachedSigner struct {
	ca      *tls.Certificate
	ttl     time.Duration
	size    int
	metrics *Metrics
	now     func() time.Time

	mu       sync.Mutex
	entries  map[string]certEntry
	inflight map[string]*certFlight
}

func newCachedSigner(ca *tls.Certificate, size int, ttl time.Duration, m *Metrics) *cachedSigner {
	return &cachedSigner{
		ca:       ca,
		ttl:      ttl,
		size:     size,
		metrics:  m,
		now:      time.Now,
		entries:  make(map[string]certEntry),
		inflight: make(map[string]*certFlight),
	}
}

func (s *cachedSigner) signHost(host string) (*tls.Certificate, error) {
	if s.size <= 0 {
		return s.forge(host)
	}

	s.mu.Lock()
	if e, ok := s.entries[host]; ok {
		if s.now().Before(e.expiresAt) {
			s.mu.Unlock()
			s.metrics.recordCertCacheHit()
			return e.cert, nil
		}
		delete(s.entries, host)
	}
	if f, ok := s.inflight[host]; ok {
		s.mu.Unlock()
		<-f.done
		return f.cert, f.err
	}
	f := &certFlight{done: make(chan struct{})}
	s.inflight[host] = f
	s.mu.Unlock()

	f.cert, f.err = s.forge(host)

	s.mu.Lock()
	delete(s.inflight, host)
	if f.err == nil {
		s.store(host, f.cert)
	}
	s.mu.Unlock()
	close(f.done)
	return f.cert, f.err
}

func (s *cachedSigner) forge(host string) (*tls.Certificate, error) {
	cert, err := signHost(s.ca, host)
	if err == nil {
		s.metrics.recordCertForged()
	}
	return cert, err
}

// store must be called with mu held. When the cache is full, expired entries
// go first, then the one closest to expiry.
func (s *cachedSigner) store(host string, cert *tls.Certificate) {
	now := s.now()
	if len(s.entries) >= s.size {
		var oldest string
		for k, e := range s.entries {
			if !now.Before(e.expiresAt) {
				delete(s.entries, k)
				continue
			}
			if oldest == "" || e.expiresAt.Before(s.entries[oldest].expiresAt) {
				oldest = k
			}
		}
		if len(s.entries) >= s.size && oldest != "" {
			delete(s.entries, oldest)
		}
	}
	s.entries[host] = certEntry{cert: cert, expiresAt: now.Add(s.ttl)}
}

func (s *cachedSigner) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
