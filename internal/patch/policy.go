package patch

import (
	"fmt"
	"time"
)

// Policy bounds which patches are worth keeping. A rejected patch is
// replaced by storing the whole file.
type Policy struct {
	// MaxRatio is the largest allowed patch size as a fraction of the
	// target size. Zero means DefaultMaxRatio.
	MaxRatio float64
	// MaxSourceSize skips patching against larger sources. Zero means no
	// limit.
	MaxSourceSize int64
	// Timeout bounds building a single patch. Zero means no limit.
	Timeout time.Duration
}

// DefaultMaxRatio rejects patches larger than the file they produce.
const DefaultMaxRatio = 1.0

// CheckSource rejects sources above MaxSourceSize.
func (p Policy) CheckSource(size int64) error {
	if p.MaxSourceSize > 0 && size > p.MaxSourceSize {
		return fmt.Errorf("%w: source is %d bytes, limit %d", ErrOversize, size, p.MaxSourceSize)
	}
	return nil
}

// CheckPatch rejects a patch larger than MaxRatio of targetSize.
func (p Policy) CheckPatch(patchSize, targetSize int) error {
	ratio := p.MaxRatio
	if ratio <= 0 {
		ratio = DefaultMaxRatio
	}
	if float64(patchSize) > ratio*float64(targetSize) {
		return fmt.Errorf("%w: patch is %d bytes for a %d byte target", ErrOversize, patchSize, targetSize)
	}
	return nil
}
