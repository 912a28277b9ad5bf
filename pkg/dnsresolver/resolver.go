// Package dnsresolver implements asynchronous hostname resolution (spec.md's
// C5) on top of a Reactor. Go's runtime resolver exposes no raw file
// descriptor to hand to epoll the way a C-ares style socket-state callback
// would, so each lookup instead runs on its own goroutine and its
// completion is marshalled back onto the owning reactor's goroutine via
// Reactor.Defer — the one place this module does not literally replicate a
// non-blocking getaddrinfo/ares callback loop.
package dnsresolver

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/fastpath/netkit/internal/xerrors"
	"github.com/fastpath/netkit/pkg/reactor"
)

const bootstrapTimeout = 3 * time.Second

// Callback receives the resolved addresses, or a non-nil *xerrors.Error
// whose Kind is one of KindDNSNotFound, KindDNSTimeout, KindDNSCancelled,
// KindDNSResolverInitFail, or KindDNSOther.
type Callback func(ips []net.IP, err error)

// Resolver is a per-reactor singleton: construct one per Reactor and share
// it across every lookup issued from that reactor's goroutine. Concurrent
// lookups share one underlying net.Resolver, matching spec.md's "concurrent
// lookups share one resolver channel."
type Resolver struct {
	reactor *reactor.Reactor
	net     *net.Resolver

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]context.CancelFunc
}

// Option configures a Resolver at construction time.
type Option func(*Resolver)

// WithNetResolver overrides the underlying *net.Resolver, e.g. to force the
// pure-Go resolver or point at a specific DNS server via a custom Dial.
func WithNetResolver(r *net.Resolver) Option {
	return func(res *Resolver) { res.net = r }
}

// New creates a Resolver bound to r. If opts replaces net.DefaultResolver
// with any other net.Resolver, New performs a bootstrap resolution of
// "localhost" to surface a broken resolver configuration immediately as
// ResolverInitFailed rather than on the caller's first real lookup,
// matching the original implementation's treatment of resolver-channel
// initialization as a distinct, non-retryable failure class.
func New(r *reactor.Reactor, opts ...Option) (*Resolver, error) {
	res := &Resolver{reactor: r, net: net.DefaultResolver, pending: make(map[uint64]context.CancelFunc)}
	for _, opt := range opts {
		opt(res)
	}
	if res.net != net.DefaultResolver {
		ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
		defer cancel()
		if _, err := res.net.LookupIPAddr(ctx, "localhost"); err != nil {
			var dnsErr *net.DNSError
			if errors.As(err, &dnsErr) && !dnsErr.IsNotFound {
				return nil, xerrors.Wrap(xerrors.KindDNSResolverInitFail, "dnsresolver.New", err)
			}
		}
	}
	return res, nil
}

// Lookup resolves host asynchronously; cb fires on the owning reactor's
// goroutine exactly once, with either a non-empty address list or an error.
func (r *Resolver) Lookup(host string, cb Callback) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	ctx, cancel := context.WithCancel(context.Background())
	r.pending[id] = cancel
	r.mu.Unlock()

	go func() {
		addrs, err := r.net.LookupIPAddr(ctx, host)

		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()

		r.reactor.Defer(func() {
			if err != nil {
				cb(nil, classifyError(err, ctx))
				return
			}
			ips := make([]net.IP, len(addrs))
			for i, a := range addrs {
				ips[i] = a.IP
			}
			cb(ips, nil)
		})
	}()
}

// CancelLookups aborts every currently in-flight lookup; each one's
// callback still fires (on the reactor's goroutine) with a KindDNSCancelled
// error rather than being silently dropped.
func (r *Resolver) CancelLookups() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.pending))
	for _, cancel := range r.pending {
		cancels = append(cancels, cancel)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func classifyError(err error, ctx context.Context) *xerrors.Error {
	if ctx.Err() == context.Canceled {
		return xerrors.Wrap(xerrors.KindDNSCancelled, "dnsresolver.Lookup", err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return xerrors.Wrap(xerrors.KindDNSNotFound, "dnsresolver.Lookup", err)
		case dnsErr.IsTimeout:
			return xerrors.Wrap(xerrors.KindDNSTimeout, "dnsresolver.Lookup", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.KindDNSTimeout, "dnsresolver.Lookup", err)
	}
	return xerrors.Wrap(xerrors.KindDNSOther, "dnsresolver.Lookup", err)
}
