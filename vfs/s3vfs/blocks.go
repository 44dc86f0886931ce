package s3vfs

// blockRun walks a byte range [offset, offset+remaining) as a sequence
// of (block index, intra-block offset, length) triples, each confined to
// a single block. It replaces the generator-with-closure pattern the
// reference implementation uses: callers drive it explicitly with next,
// no goroutine or channel is spun up per read/write.
type blockRun struct {
	offset    int64
	remaining int64
	blockSize int64
}

func newBlockRun(offset, amount, blockSize int64) blockRun {
	return blockRun{offset: offset, remaining: amount, blockSize: blockSize}
}

// next returns the next (block, start, length) triple covering part of
// the range, advancing the iterator. ok is false once the whole range
// has been covered.
func (r *blockRun) next() (block, start, length int64, ok bool) {
	if r.remaining <= 0 {
		return 0, 0, 0, false
	}

	block = r.offset / r.blockSize
	start = r.offset % r.blockSize
	length = r.blockSize - start
	if length > r.remaining {
		length = r.remaining
	}

	r.offset += length
	r.remaining -= length
	return block, start, length, true
}

// blockKey formats a block index as the fixed-width, zero-padded
// decimal suffix used for object keys: "<prefix>/<NNNNNNNNNN>". Ordering
// objects lexicographically by key equals ordering by block index
// because the width never varies.
func blockKey(prefix string, block int64) string {
	return prefix + "/" + padBlockIndex(block)
}

const blockIndexWidth = 10

func padBlockIndex(block int64) string {
	// Ten-digit zero-padded decimal, matching blockIndexWidth.
	buf := make([]byte, blockIndexWidth)
	for i := blockIndexWidth - 1; i >= 0; i-- {
		buf[i] = byte('0' + block%10)
		block /= 10
	}
	return string(buf)
}
