package dynamo

import "sync"

// ScratchPool hands out zeroed vectors of any length. Agents of different
// models need different lengths, so vectors are pooled per length.
type ScratchPool struct {
	mu    sync.Mutex
	pools map[int]*sync.Pool
}

func NewScratchPool() *ScratchPool {
	return &ScratchPool{pools: make(map[int]*sync.Pool)}
}

func (p *ScratchPool) sized(n int) *sync.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()

	sp, ok := p.pools[n]
	if !ok {
		sp = &sync.Pool{New: func() any { return make(State, n) }}
		p.pools[n] = sp
	}
	return sp
}

// Get returns a zeroed vector of length n.
func (p *ScratchPool) Get(n int) State {
	if n <= 0 {
		return State{}
	}
	return p.sized(n).Get().(State)
}

// Put zeroes s and makes it available to later Gets of the same length.
func (p *ScratchPool) Put(s State) {
	if len(s) == 0 {
		return
	}
	clear(s)
	p.sized(len(s)).Put(s)
}
