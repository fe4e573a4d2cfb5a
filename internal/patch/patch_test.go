package patch

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/StinkyLord/modlist-builder/internal/model"
)

func randomBytes(seed uint64, n int) []byte {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.Uint32())
	}
	return b
}

func roundTrip(t *testing.T, target, source []byte) []byte {
	t.Helper()
	p, err := Build(target, source)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	got, err := Apply(p, source)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !bytes.Equal(got, target) {
		t.Fatalf("Apply produced %d bytes that differ from the %d byte target", len(got), len(target))
	}
	return p
}

func TestRoundTrip(t *testing.T) {
	base := randomBytes(1, 64<<10)

	modified := bytes.Clone(base)
	copy(modified[1000:], []byte{1, 2, 3, 4})

	insertedMiddle := append(bytes.Clone(base[:30000]), append([]byte("new bytes in the middle"), base[30000:]...)...)

	tests := []struct {
		name   string
		target []byte
		source []byte
	}{
		{"empty target", nil, base},
		{"empty source", []byte("hello"), nil},
		{"both empty", nil, nil},
		{"identical", base, base},
		{"four bytes changed", modified, base},
		{"insertion", insertedMiddle, base},
		{"truncated", base[:5000], base},
		{"unrelated", randomBytes(2, 10000), base},
		{"short", []byte("abc"), []byte("abd")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roundTrip(t, tt.target, tt.source)
		})
	}
}

func TestSmallChangeGivesSmallPatch(t *testing.T) {
	base := randomBytes(3, 256<<10)
	modified := bytes.Clone(base)
	copy(modified[100000:], []byte{0xde, 0xad, 0xbe, 0xef})

	p := roundTrip(t, modified, base)
	if len(p) > 4096 {
		t.Errorf("patch is %d bytes for a 4 byte change", len(p))
	}
}

func TestIdenticalIsTiny(t *testing.T) {
	base := randomBytes(4, 128<<10)
	p := roundTrip(t, base, base)
	if len(p) > 128 {
		t.Errorf("patch between identical files is %d bytes", len(p))
	}
}

func TestApplyWrongSource(t *testing.T) {
	source := randomBytes(5, 4096)
	p, err := Build([]byte("target"), source)
	if err != nil {
		t.Fatal(err)
	}
	other := bytes.Clone(source)
	other[0] ^= 0xff
	if _, err := Apply(p, other); !errors.Is(err, ErrSourceMismatch) {
		t.Errorf("Apply error = %v, want ErrSourceMismatch", err)
	}
}

func TestApplyCorrupt(t *testing.T) {
	source := randomBytes(6, 4096)
	p, err := Build(randomBytes(7, 4096), source)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		patch []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte("XXXX"), p[4:]...)},
		{"truncated header", p[:8]},
		{"damaged body", func() []byte {
			b := bytes.Clone(p)
			b[len(b)-1] ^= 0xff
			return b
		}()},
		{"huge target size", withTargetSize(t, p, source, 1<<62)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Apply(tt.patch, source); !errors.Is(err, ErrCorrupt) {
				t.Errorf("Apply error = %v, want ErrCorrupt", err)
			}
		})
	}
}

// withTargetSize rewrites the header of p to claim a different target size.
func withTargetSize(t *testing.T, p, source []byte, size uint64) []byte {
	t.Helper()
	h, body, err := parseHeader(p)
	if err != nil {
		t.Fatal(err)
	}
	out := append([]byte(magic), version)
	out = binary.AppendUvarint(out, size)
	out = binary.LittleEndian.AppendUint64(out, uint64(h.targetHash))
	out = binary.AppendUvarint(out, uint64(len(source)))
	out = binary.LittleEndian.AppendUint64(out, uint64(model.HashBytes(source)))
	return append(out, body...)
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := BuildContext(ctx, randomBytes(8, 1<<20), randomBytes(9, 1<<20))
	if err == nil {
		t.Fatal("BuildContext should fail on a cancelled context")
	}
}

func TestBuildExpiredDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	source := randomBytes(10, 64<<10)
	target := bytes.Clone(source)
	target[100] ^= 0xff
	if _, err := BuildContext(ctx, target, source); err == nil {
		t.Fatal("BuildContext should fail once the deadline has passed")
	}
}

func TestPolicy(t *testing.T) {
	p := Policy{MaxSourceSize: 100}
	if err := p.CheckSource(100); err != nil {
		t.Errorf("CheckSource(100) = %v", err)
	}
	if err := p.CheckSource(101); !errors.Is(err, ErrOversize) {
		t.Errorf("CheckSource(101) = %v, want ErrOversize", err)
	}
	if err := p.CheckPatch(50, 100); err != nil {
		t.Errorf("CheckPatch(50, 100) = %v", err)
	}
	if err := p.CheckPatch(101, 100); !errors.Is(err, ErrOversize) {
		t.Errorf("CheckPatch(101, 100) = %v, want ErrOversize", err)
	}
	half := Policy{MaxRatio: 0.5}
	if err := half.CheckPatch(60, 100); !errors.Is(err, ErrOversize) {
		t.Errorf("CheckPatch with ratio 0.5 = %v, want ErrOversize", err)
	}
	if err := (Policy{}).CheckSource(1 << 40); err != nil {
		t.Errorf("zero policy should not cap sources: %v", err)
	}
}
