package tail

import "sync/atomic"

// ChainState is the state of a Chain.
type ChainState int32

const (
	// ChainNone means the stream has no followers.
	ChainNone ChainState = iota
	// ChainPending means the followers have not been released yet.
	ChainPending
	// ChainFired means the followers were released.
	ChainFired
)

func (s ChainState) String() string {
	switch s {
	case ChainPending:
		return "pending"
	case ChainFired:
		return "fired"
	default:
		return "none"
	}
}

// Chain holds the streams that start once a trigger stream has produced its
// first content or has given up.
type Chain struct {
	followers []StreamConfig
	state     atomic.Int32
}

// NewChain returns a pending chain. It returns nil when there are no followers.
func NewChain(followers ...StreamConfig) *Chain {
	if len(followers) == 0 {
		return nil
	}
	c := &Chain{followers: followers}
	c.state.Store(int32(ChainPending))
	return c
}

// Fire moves the chain from pending to fired and returns the followers. Only
// the first call returns them; later calls return nil.
func (c *Chain) Fire() []StreamConfig {
	if c == nil {
		return nil
	}
	if !c.state.CompareAndSwap(int32(ChainPending), int32(ChainFired)) {
		return nil
	}
	return c.followers
}

// State returns the current chain state.
func (c *Chain) State() ChainState {
	if c == nil {
		return ChainNone
	}
	return ChainState(c.state.Load())
}
