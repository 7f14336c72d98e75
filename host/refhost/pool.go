package refhost

import "sync"

// sizedPool is a power-of-two bucketed pool of reusable byte slices,
// adapted from the teacher's manager/memory.MemoryManager (which
// bucketed fixed-size node allocations the same way for its own
// buffer pool) down to two sizes of interest here: exactly
// wire.PageSize (every transaction patch) and the occasional larger
// request, up to maxSize. Requests outside [minSize, maxSize] fall
// back to a plain make().
type sizedPool struct {
	minSize, maxSize uint32
	base             int
	buckets          []sync.Pool
}

func logBaseTwo(x uint32) int {
	n := 0
	for x > 1 {
		x >>= 1
		n++
	}
	return n
}

func alignUpPowerOfTwo(x uint32) uint32 {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	return x + 1
}

func newSizedPool(minSize, maxSize uint32) *sizedPool {
	minSize = alignUpPowerOfTwo(minSize)
	maxSize = alignUpPowerOfTwo(maxSize)
	minLog, maxLog := logBaseTwo(minSize), logBaseTwo(maxSize)

	p := &sizedPool{
		minSize: minSize,
		maxSize: maxSize,
		base:    minLog,
		buckets: make([]sync.Pool, maxLog-minLog+1),
	}
	for i := minLog; i <= maxLog; i++ {
		size := 1 << i
		p.buckets[i-p.base].New = func() any {
			mem := make([]byte, size)
			return &mem
		}
	}
	return p
}

func (p *sizedPool) get(n int) []byte {
	size := uint32(n)
	if size < p.minSize || size > p.maxSize {
		return make([]byte, n)
	}
	size = alignUpPowerOfTwo(size)
	mem := p.buckets[logBaseTwo(size)-p.base].Get().(*[]byte)
	return (*mem)[:n]
}

func (p *sizedPool) put(mem []byte) {
	size := uint32(cap(mem))
	if size < p.minSize || size > p.maxSize || alignUpPowerOfTwo(size) != size {
		return
	}
	full := mem[:size]
	p.buckets[logBaseTwo(size)-p.base].Put(&full)
}
