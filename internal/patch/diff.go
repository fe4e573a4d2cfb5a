package patch

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"

	"github.com/StinkyLord/modlist-builder/internal/workpool"
)

const (
	minBlock = 16
	maxBlock = 4096

	// maxCandidates bounds how many source blocks are compared per hit.
	maxCandidates = 8
	// checkEvery is how many target bytes are scanned between cancellation
	// checks.
	checkEvery = 1 << 16
)

func blockSize(sourceLen int) int {
	return min(max(int(math.Sqrt(float64(sourceLen))), minBlock), maxBlock)
}

// rolling is the rsync weak checksum over a fixed window.
type rolling struct {
	a, b uint32
	n    uint32
}

func newRolling(window []byte) rolling {
	r := rolling{n: uint32(len(window))}
	for i, c := range window {
		r.a += uint32(c)
		r.b += (r.n - uint32(i)) * uint32(c)
	}
	return r
}

func (r *rolling) roll(out, in byte) {
	r.a = r.a - uint32(out) + uint32(in)
	r.b = r.b - r.n*uint32(out) + r.a
}

func (r rolling) sum() uint32 {
	return r.b<<16 | r.a&0xffff
}

type opWriter struct {
	buf []byte

	pendingCopy bool
	copyOff     int
	copyLen     int
}

func (w *opWriter) copy(off, n int) {
	if w.pendingCopy && w.copyOff+w.copyLen == off {
		w.copyLen += n
		return
	}
	w.flushCopy()
	w.pendingCopy, w.copyOff, w.copyLen = true, off, n
}

func (w *opWriter) insert(lit []byte) {
	if len(lit) == 0 {
		return
	}
	w.flushCopy()
	w.buf = append(w.buf, opInsert)
	w.buf = binary.AppendUvarint(w.buf, uint64(len(lit)))
	w.buf = append(w.buf, lit...)
}

func (w *opWriter) flushCopy() {
	if !w.pendingCopy {
		return
	}
	w.buf = append(w.buf, opCopy)
	w.buf = binary.AppendUvarint(w.buf, uint64(w.copyOff))
	w.buf = binary.AppendUvarint(w.buf, uint64(w.copyLen))
	w.pendingCopy = false
}

// diff returns the uncompressed op stream turning source into target.
func diff(ctx context.Context, target, source []byte) ([]byte, error) {
	var w opWriter
	bs := blockSize(len(source))
	if len(source) < bs || len(target) < bs {
		w.insert(target)
		return w.buf, nil
	}

	blocks := make(map[uint32][]int, len(source)/bs)
	for off := 0; off+bs <= len(source); off += bs {
		s := newRolling(source[off : off+bs]).sum()
		blocks[s] = append(blocks[s], off)
	}

	lit := 0
	i := 0
	r := newRolling(target[:bs])
	nextCheck := 0
	for i+bs <= len(target) {
		if i >= nextCheck {
			if err := workpool.Cancelled(ctx); err != nil {
				return nil, err
			}
			nextCheck = i + checkEvery
		}

		srcOff, n := bestMatch(blocks[r.sum()], target, source, i, bs)
		if n == 0 {
			if i+bs < len(target) {
				r.roll(target[i], target[i+bs])
			}
			i++
			continue
		}

		// Grow the match backwards over bytes not yet emitted.
		for i > lit && srcOff > 0 && source[srcOff-1] == target[i-1] {
			i--
			srcOff--
			n++
		}
		w.insert(target[lit:i])
		w.copy(srcOff, n)
		i += n
		lit = i
		if i+bs <= len(target) {
			r = newRolling(target[i : i+bs])
		}
	}
	w.insert(target[lit:])
	w.flushCopy()
	return w.buf, nil
}

// bestMatch verifies candidate source blocks against target at i and
// returns the one that extends furthest forward.
func bestMatch(candidates []int, target, source []byte, i, bs int) (int, int) {
	bestOff, bestLen := 0, 0
	for k, off := range candidates {
		if k == maxCandidates {
			break
		}
		if !bytes.Equal(source[off:off+bs], target[i:i+bs]) {
			continue
		}
		n := bs
		for off+n < len(source) && i+n < len(target) && source[off+n] == target[i+n] {
			n++
		}
		if n > bestLen {
			bestOff, bestLen = off, n
		}
	}
	return bestOff, bestLen
}
