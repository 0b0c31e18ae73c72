package convert

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestParseSettings(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Settings
		err  bool
	}{
		{name: "empty", raw: ""},
		{name: "null", raw: " null "},
		{name: "svg", raw: `{"type":"svg","width":200,"height":150}`, want: SVGSettings{Width: 200, Height: 150}},
		{name: "missing type", raw: `{"width":1,"height":1}`, err: true},
		{name: "missing height", raw: `{"type":"svg","width":1}`, err: true},
		{name: "unknown variant", raw: `{"type":"png","width":1,"height":1}`, err: true},
		{name: "negative width", raw: `{"type":"svg","width":-5,"height":1}`, err: true},
		{name: "not an object", raw: `[1,2]`, err: true},
		{name: "truncated", raw: `{"type":`, err: true},
	}

	for _, tc := range tests {
		got, err := ParseSettings(json.RawMessage(tc.raw))
		if tc.err {
			if !Is(err, CodeSettingsParse) {
				t.Fatalf("%s: expected settings parse error, got %v", tc.name, err)
			}
			if !strings.HasPrefix(err.Error(), "Parsing error: ") {
				t.Fatalf("%s: unexpected message %q", tc.name, err.Error())
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %#v, got %#v", tc.name, tc.want, got)
		}
	}
}

func TestMarshalSettingsRoundTrip(t *testing.T) {
	raw, err := MarshalSettings(SVGSettings{Width: 3, Height: 4})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"type":"svg","width":3,"height":4}` {
		t.Fatalf("unexpected payload %s", raw)
	}

	got, err := ParseSettings(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != (SVGSettings{Width: 3, Height: 4}) {
		t.Fatalf("unexpected settings %#v", got)
	}

	empty, err := MarshalSettings(nil)
	if err != nil || empty != nil {
		t.Fatalf("expected empty payload for nil settings, got %q (%v)", empty, err)
	}
}

func TestErrorKeepsCause(t *testing.T) {
	cause := errors.New("bad huffman table")
	err := fmt.Errorf("job 7: %w", Wrap(CodeCodec, cause))

	if CodeOf(err) != CodeCodec {
		t.Fatalf("expected codec code, got %q", CodeOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	var convErr *Error
	if !errors.As(err, &convErr) || convErr.Message != "Image library error: bad huffman table" {
		t.Fatalf("unexpected error %#v", convErr)
	}
	if CodeOf(cause) != "" || Is(nil, CodeCodec) {
		t.Fatalf("plain errors carry no code")
	}
}

func TestNewFormatsDetail(t *testing.T) {
	err := New(CodeUnknownSourceType, "%d bytes", 12)
	if err.Error() != "Unknown file type: 12 bytes" || err.Unwrap() != nil {
		t.Fatalf("unexpected error %q", err.Error())
	}
}
