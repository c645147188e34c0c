package pcap

import "time"

// DefaultIdleTimeout is the default interval after which a flow with no
// observed traffic is force-closed by the idle-timeout sweep, if enabled.
const DefaultIdleTimeout = 90 * time.Second

type Options struct {
	// live or offline
	Live bool
	// read from offline file or live device
	ReadName string
	// bpf filter
	BPFilter string

	// IdleTimeout is how long a flow may go without traffic before the
	// idle-timeout sweep force-closes it. Zero disables the sweep.
	IdleTimeout time.Duration
}

func NewOptions() Options {
	return Options{
		IdleTimeout: DefaultIdleTimeout,
	}
}

type Option func(*Options)

func WithReadName(name string, live bool) Option {
	return func(o *Options) {
		o.Live = live
		o.ReadName = name
	}
}

func WithBPF(filter string) Option {
	return func(o *Options) {
		o.BPFilter = filter
	}
}

func WithIdleTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.IdleTimeout = d
	}
}
