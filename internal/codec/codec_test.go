package codec

import (
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type event struct {
	ID    int               `json:"id"`
	Name  string            `json:"name"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

func sampleEvents() []event {
	return []event{
		{ID: 1, Name: "a"},
		{ID: 2, Name: "b", Attrs: map[string]string{"k": "v"}},
		{ID: 3, Name: ""},
	}
}

func TestStructCodecsRoundTrip(t *testing.T) {
	for _, c := range []Codec[event]{JSON[event]{}, Gob[event]{}} {
		t.Run(c.Name(), func(t *testing.T) {
			in := sampleEvents()
			data, err := c.Encode(in)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			out, err := c.Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if len(out) != len(in) {
				t.Fatalf("Decode() returned %d items, want %d", len(out), len(in))
			}
			for i := range in {
				if out[i].ID != in[i].ID || out[i].Name != in[i].Name || out[i].Attrs["k"] != in[i].Attrs["k"] {
					t.Errorf("item %d = %+v, want %+v", i, out[i], in[i])
				}
			}
		})
	}
}

func TestScalarCodecs(t *testing.T) {
	in := []string{"x", "", "z"}
	for _, c := range []Codec[string]{JSON[string]{}, Gob[string]{}} {
		data, err := c.Encode(in)
		if err != nil {
			t.Fatalf("%s: Encode() error = %v", c.Name(), err)
		}
		out, err := c.Decode(data)
		if err != nil {
			t.Fatalf("%s: Decode() error = %v", c.Name(), err)
		}
		if len(out) != 3 || out[0] != "x" || out[1] != "" || out[2] != "z" {
			t.Errorf("%s: Decode() = %q", c.Name(), out)
		}
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := (JSON[int]{}).Decode([]byte("\x00\x01not a blob")); err == nil {
		t.Error("json: expected error")
	}
	// Declares a 5-byte message but carries one byte.
	if _, err := (Gob[int]{}).Decode([]byte{0x05, 0x01}); err == nil {
		t.Error("gob: expected error")
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", "json", "JSON", "gob"} {
		if _, err := ByName[int](name); err != nil {
			t.Errorf("ByName(%q) error = %v", name, err)
		}
	}
	if _, err := ByName[int]("msgpack"); err == nil {
		t.Error("expected error for unknown codec")
	}
	if _, err := ByName[int](NameProto); err == nil {
		t.Error("expected error for proto without a message constructor")
	}
}

func TestKnown(t *testing.T) {
	for _, name := range []string{"", "json", "Gob", " proto "} {
		if !Known(name) {
			t.Errorf("Known(%q) = false", name)
		}
	}
	if Known("msgpack") {
		t.Error(`Known("msgpack") = true`)
	}
}

func TestProtoRoundTrip(t *testing.T) {
	c := NewProto(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })

	in := []*wrapperspb.StringValue{
		wrapperspb.String("first"),
		wrapperspb.String(""),
		wrapperspb.String("third"),
	}
	data, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	out, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("Decode() returned %d items, want %d", len(out), len(in))
	}
	for i := range in {
		if !proto.Equal(out[i], in[i]) {
			t.Errorf("item %d = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestProtoEmpty(t *testing.T) {
	c := NewProto(func() *wrapperspb.Int64Value { return &wrapperspb.Int64Value{} })
	data, err := c.Encode(nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Errorf("expected no items, got %d", len(out))
	}
}

func TestProtoDecodeTruncated(t *testing.T) {
	c := NewProto(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	data, err := c.Encode([]*wrapperspb.StringValue{wrapperspb.String("truncate me")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Decode(data[:len(data)-3]); err == nil {
		t.Error("expected error for truncated blob")
	}
	if _, err := c.Decode([]byte{0x10, 0x01}); err == nil {
		t.Error("expected error for unexpected field")
	}
}
