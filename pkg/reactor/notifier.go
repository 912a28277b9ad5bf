package reactor

// Kind is a bitmask of readiness conditions a Notifier watches for.
type Kind uint8

const (
	Read Kind = 1 << iota
	Write
	Exception
)

func (k Kind) has(other Kind) bool { return k&other != 0 }

// Has reports whether k includes other's bits. Exported for consumers
// (e.g. tcpsocket) that need to branch on a notifier callback's ready mask.
func (k Kind) Has(other Kind) bool { return k.has(other) }

// FDCallback is invoked on the owning reactor's thread when a watched
// readiness condition on fd becomes true. ready reports which of the
// requested kinds actually fired; HUP/ERR readiness is reported against
// every kind the notifier registered for, per the reactor's wait algorithm.
type FDCallback func(fd int, ready Kind)

// Notifier is the registration of interest in readiness conditions on a
// single file descriptor. One Notifier exists per (fd, kind-set); closing
// the fd without first calling Reactor.UnregisterNotifier is a caller bug.
type Notifier struct {
	reactor *Reactor
	fd      int
	kind    Kind
	cb      FDCallback
	id      uint64
}

// FD returns the watched file descriptor.
func (n *Notifier) FD() int { return n.fd }

// Kind returns the readiness bitmask this notifier was registered for.
func (n *Notifier) Kind() Kind { return n.kind }
