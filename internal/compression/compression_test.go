package compression

import (
	"bytes"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

var allTypes = []Type{TypeNone, TypeSnappy, TypeS2, TypeZstd, TypeLZ4, TypeGzip}

func TestRoundTrip(t *testing.T) {
	payloads := map[string][]byte{
		"empty":      {},
		"small":      []byte("hello chunk"),
		"repetitive": bytes.Repeat([]byte("abcdefgh"), 4096),
	}

	for _, typ := range allTypes {
		for name, data := range payloads {
			t.Run(string(typ)+"/"+name, func(t *testing.T) {
				compressed, err := Compress(data, typ)
				if err != nil {
					t.Fatalf("Compress() error = %v", err)
				}
				got, err := Decompress(compressed, typ)
				if err != nil {
					t.Fatalf("Decompress() error = %v", err)
				}
				if !bytes.Equal(got, data) {
					t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(data))
				}
			})
		}
	}
}

func TestCompressShrinksRepetitiveData(t *testing.T) {
	data := []byte(strings.Repeat("spill-spill-spill-", 2000))
	for _, typ := range allTypes[1:] {
		out, err := Compress(data, typ)
		if err != nil {
			t.Fatalf("%s: Compress() error = %v", typ, err)
		}
		if len(out) >= len(data) {
			t.Errorf("%s: expected compression, got %d >= %d", typ, len(out), len(data))
		}
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"", TypeNone, false},
		{"none", TypeNone, false},
		{" Snappy ", TypeSnappy, false},
		{"s2", TypeS2, false},
		{"ZSTD", TypeZstd, false},
		{"lz4", TypeLZ4, false},
		{"gzip", TypeGzip, false},
		{"brotli", TypeNone, true},
	}
	for _, tt := range tests {
		got, err := ParseType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseType(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestCodes(t *testing.T) {
	seen := make(map[byte]Type)
	for _, typ := range allTypes {
		c := typ.Code()
		if prev, dup := seen[c]; dup {
			t.Fatalf("code %d shared by %s and %s", c, prev, typ)
		}
		seen[c] = typ

		back, err := FromCode(c)
		if err != nil || back != typ {
			t.Errorf("FromCode(%d) = %s, %v; want %s", c, back, err, typ)
		}
	}
	if _, err := FromCode(200); err == nil {
		t.Error("expected error for unknown code")
	}
}

func TestDecompressGarbage(t *testing.T) {
	garbage := []byte{0xff, 0x00, 0x13, 0x37, 0xde, 0xad}
	for _, typ := range []Type{TypeSnappy, TypeS2, TypeZstd, TypeGzip} {
		if _, err := Decompress(garbage, typ); err == nil {
			t.Errorf("%s: expected error decoding garbage", typ)
		}
	}
}

func TestUnsupportedType(t *testing.T) {
	if _, err := Compress([]byte("x"), Type("brotli")); err == nil {
		t.Error("expected Compress error")
	}
	if _, err := Decompress([]byte("x"), Type("brotli")); err == nil {
		t.Error("expected Decompress error")
	}
}

func TestMetricsRecorded(t *testing.T) {
	before := testutil.ToFloat64(inputBytes.WithLabelValues(string(TypeS2)))
	if _, err := Compress(make([]byte, 1000), TypeS2); err != nil {
		t.Fatal(err)
	}
	after := testutil.ToFloat64(inputBytes.WithLabelValues(string(TypeS2)))
	if after-before != 1000 {
		t.Errorf("expected 1000 input bytes recorded, got %v", after-before)
	}
}
