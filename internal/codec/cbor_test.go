package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	Name  string            `cbor:"name"`
	Size  int64             `cbor:"size"`
	Attrs map[string]string `cbor:"attrs"`
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(v); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return buf.Bytes()
}

func TestEncodingIsDeterministic(t *testing.T) {
	value := sample{
		Name:  "archive.zip",
		Size:  42,
		Attrs: map[string]string{"z": "1", "a": "2", "m": "3"},
	}

	first := encode(t, value)
	for i := 0; i < 10; i++ {
		if again := encode(t, value); !bytes.Equal(first, again) {
			t.Fatalf("encoding %d differs from the first one", i)
		}
	}

	var decoded sample
	if err := NewDecoder(bytes.NewReader(first)).Decode(&decoded); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Name != value.Name || decoded.Size != value.Size || len(decoded.Attrs) != 3 {
		t.Errorf("decoded = %+v, want %+v", decoded, value)
	}
}

func TestStreamEncoderDecoder(t *testing.T) {
	var buf bytes.Buffer
	encoder := NewEncoder(&buf)
	for _, name := range []string{"a", "b"} {
		if err := encoder.Encode(sample{Name: name}); err != nil {
			t.Fatalf("Encode(%q) failed: %v", name, err)
		}
	}

	decoder := NewDecoder(&buf)
	for _, want := range []string{"a", "b"} {
		var got sample
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if got.Name != want {
			t.Errorf("Decode name = %q, want %q", got.Name, want)
		}
	}
}
