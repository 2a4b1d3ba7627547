package sim

import "sync"

// StatePool recycles scratch vectors of one size. Event localization
// interpolates the state many times per crossing and draws its buffers
// from here.
type StatePool struct {
	pool sync.Pool
	size int
}

func NewStatePool(stateSize int) *StatePool {
	return &StatePool{
		size: stateSize,
		pool: sync.Pool{
			New: func() interface{} {
				s := make([]float64, stateSize)
				return &s
			},
		},
	}
}

func (p *StatePool) Get() []float64 {
	return *p.pool.Get().(*[]float64)
}

func (p *StatePool) Put(s []float64) {
	if len(s) == p.size {
		for i := range s {
			s[i] = 0
		}
		p.pool.Put(&s)
	}
}
