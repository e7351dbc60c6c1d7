package archive

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// FetchFunc returns length bytes starting at off. Implementations may
// return fewer bytes only at the end of the object.
type FetchFunc func(ctx context.Context, off, length int64) ([]byte, error)

const (
	defaultBlockSize = 256 << 10
	defaultMaxBlocks = 32
)

// RangeReader is an io.ReaderAt over a remote object. Reads are rounded
// to fixed blocks and the most recent blocks are cached, so the many
// small reads of a zip or tar walk turn into few range requests.
type RangeReader struct {
	ctx       context.Context
	fetch     FetchFunc
	size      int64
	blockSize int64
	maxBlocks int

	mu       sync.Mutex
	blocks   map[int64][]byte
	order    []int64
	requests int
}

// NewRangeReader wraps fetch for an object of the given size.
func NewRangeReader(ctx context.Context, fetch FetchFunc, size int64) *RangeReader {
	return &RangeReader{
		ctx:       ctx,
		fetch:     fetch,
		size:      size,
		blockSize: defaultBlockSize,
		maxBlocks: defaultMaxBlocks,
		blocks:    make(map[int64][]byte),
	}
}

// Size returns the object size.
func (r *RangeReader) Size() int64 { return r.size }

// Requests returns how many fetches were issued.
func (r *RangeReader) Requests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests
}

// ReadAt implements io.ReaderAt.
func (r *RangeReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= r.size {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && off < r.size {
		idx := off / r.blockSize
		block, err := r.block(idx)
		if err != nil {
			return n, err
		}
		within := off - idx*r.blockSize
		if within >= int64(len(block)) {
			return n, io.ErrUnexpectedEOF
		}
		c := copy(p[n:], block[within:])
		n += c
		off += int64(c)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *RangeReader) block(idx int64) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.blocks[idx]; ok {
		return b, nil
	}
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}

	start := idx * r.blockSize
	length := min(r.blockSize, r.size-start)
	b, err := r.fetch(r.ctx, start, length)
	r.requests++
	if err != nil {
		return nil, err
	}

	if len(r.order) >= r.maxBlocks {
		evict := r.order[0]
		r.order = r.order[1:]
		delete(r.blocks, evict)
	}
	r.blocks[idx] = b
	r.order = append(r.order, idx)
	return b, nil
}
