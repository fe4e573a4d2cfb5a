// Package patch builds and applies binary deltas that turn an archived
// source file into a modified target file.
//
// A patch is a small header followed by a zstd-compressed stream of COPY
// (from source) and INSERT (literal bytes) operations. The header records
// the size and xxHash of both files so that Apply can refuse the wrong
// source and verify its output bit for bit.
package patch

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/StinkyLord/modlist-builder/internal/model"
)

const (
	magic   = "MLPT"
	version = 1

	opCopy   = 0
	opInsert = 1
)

var (
	// ErrCorrupt is returned for a malformed patch or one whose output does
	// not verify.
	ErrCorrupt = errors.New("corrupt patch")
	// ErrSourceMismatch is returned when Apply is given the wrong source.
	ErrSourceMismatch = errors.New("patch source mismatch")
	// ErrOversize is returned when a patch or its source exceeds the policy.
	ErrOversize = errors.New("patch exceeds size policy")
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
	)
	if err != nil {
		panic("patch: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("patch: zstd decoder initialization failed: " + err.Error())
	}
}

type header struct {
	targetSize uint64
	targetHash model.Hash
	sourceSize uint64
	sourceHash model.Hash
}

// Build returns a patch that produces target when applied to source.
func Build(target, source []byte) ([]byte, error) {
	return BuildContext(context.Background(), target, source)
}

// BuildContext is Build with cancellation, checked while scanning target.
func BuildContext(ctx context.Context, target, source []byte) ([]byte, error) {
	ops, err := diff(ctx, target, source)
	if err != nil {
		return nil, err
	}

	h := header{
		targetSize: uint64(len(target)),
		targetHash: model.HashBytes(target),
		sourceSize: uint64(len(source)),
		sourceHash: model.HashBytes(source),
	}
	out := h.append([]byte(magic))
	return zstdEncoder.EncodeAll(ops, out), nil
}

func (h header) append(b []byte) []byte {
	b = append(b, version)
	b = binary.AppendUvarint(b, h.targetSize)
	b = binary.LittleEndian.AppendUint64(b, uint64(h.targetHash))
	b = binary.AppendUvarint(b, h.sourceSize)
	b = binary.LittleEndian.AppendUint64(b, uint64(h.sourceHash))
	return b
}

func parseHeader(patch []byte) (header, []byte, error) {
	var h header
	if !bytes.HasPrefix(patch, []byte(magic)) {
		return h, nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	b := patch[len(magic):]
	if len(b) < 1 || b[0] != version {
		return h, nil, fmt.Errorf("%w: unsupported version", ErrCorrupt)
	}
	b = b[1:]

	var n int
	if h.targetSize, n = binary.Uvarint(b); n <= 0 {
		return h, nil, fmt.Errorf("%w: bad target size", ErrCorrupt)
	}
	b = b[n:]
	if len(b) < 8 {
		return h, nil, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	h.targetHash = model.Hash(binary.LittleEndian.Uint64(b))
	b = b[8:]
	if h.sourceSize, n = binary.Uvarint(b); n <= 0 {
		return h, nil, fmt.Errorf("%w: bad source size", ErrCorrupt)
	}
	b = b[n:]
	if len(b) < 8 {
		return h, nil, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	h.sourceHash = model.Hash(binary.LittleEndian.Uint64(b))
	return h, b[8:], nil
}

// Apply reconstructs the target from patch and source.
func Apply(patch, source []byte) ([]byte, error) {
	h, body, err := parseHeader(patch)
	if err != nil {
		return nil, err
	}
	if uint64(len(source)) != h.sourceSize || model.HashBytes(source) != h.sourceHash {
		return nil, ErrSourceMismatch
	}
	var ops []byte
	if len(body) > 0 {
		if ops, err = zstdDecoder.DecodeAll(body, nil); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
	}

	// The header size is untrusted until the output hash checks out.
	target := make([]byte, 0, min(h.targetSize, uint64(len(source))+uint64(len(ops))))
	for len(ops) > 0 {
		op := ops[0]
		ops = ops[1:]
		switch op {
		case opCopy:
			off, n := binary.Uvarint(ops)
			if n <= 0 {
				return nil, fmt.Errorf("%w: bad copy offset", ErrCorrupt)
			}
			ops = ops[n:]
			length, n := binary.Uvarint(ops)
			if n <= 0 {
				return nil, fmt.Errorf("%w: bad copy length", ErrCorrupt)
			}
			ops = ops[n:]
			if off > uint64(len(source)) || length > uint64(len(source))-off {
				return nil, fmt.Errorf("%w: copy out of range", ErrCorrupt)
			}
			target = append(target, source[off:off+length]...)
		case opInsert:
			length, n := binary.Uvarint(ops)
			if n <= 0 {
				return nil, fmt.Errorf("%w: bad insert length", ErrCorrupt)
			}
			ops = ops[n:]
			if length > uint64(len(ops)) {
				return nil, fmt.Errorf("%w: insert out of range", ErrCorrupt)
			}
			target = append(target, ops[:length]...)
			ops = ops[length:]
		default:
			return nil, fmt.Errorf("%w: unknown op %d", ErrCorrupt, op)
		}
		if uint64(len(target)) > h.targetSize {
			return nil, fmt.Errorf("%w: output exceeds target size", ErrCorrupt)
		}
	}

	if uint64(len(target)) != h.targetSize || model.HashBytes(target) != h.targetHash {
		return nil, fmt.Errorf("%w: output does not match target hash", ErrCorrupt)
	}
	return target, nil
}
