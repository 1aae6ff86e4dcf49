package codec

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/goccy/go-json"
)

func TestEncodeNilIsEmptyObject(t *testing.T) {
	data, err := Encode(nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}" {
		t.Fatalf("Encode(nil) = %q, want {}", data)
	}
}

func TestEncodeDecode(t *testing.T) {
	state := map[string]any{
		"a":    1,
		"b":    "two",
		"nil":  nil,
		"list": []any{true, 2.5},
		"obj":  map[string]any{"x": "y"},
	}
	data, err := Encode(state)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"a":    json.Number("1"),
		"b":    "two",
		"nil":  nil,
		"list": []any{true, json.Number("2.5")},
		"obj":  map[string]any{"x": "y"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Decode(Encode()) = %#v, want %#v", got, want)
	}
	if _, ok := got["nil"]; !ok {
		t.Fatal("explicit null value must survive as a present key")
	}
}

func TestEncodeUnserializable(t *testing.T) {
	_, err := Encode(map[string]any{"ch": make(chan int)})
	if !errors.Is(err, ErrEncode) {
		t.Fatalf("Encode(chan) err = %v, want ErrEncode", err)
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"garbage", "{{not json"},
		{"truncated", `{"a": 1`},
		{"array", `[1, 2]`},
		{"null", `null`},
		{"number", `42`},
		{"trailing", `{"a": 1} {"b": 2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			if !errors.Is(err, ErrDecode) {
				t.Fatalf("Decode(%q) err = %v, want ErrDecode", tt.data, err)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	type rating struct {
		Score int    `json:"score"`
		Note  string `json:"note,omitempty"`
	}
	got, err := Normalize(rating{Score: 4})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"score": json.Number("4")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Normalize = %#v, want %#v", got, want)
	}

	in := map[string]any{"inner": []any{"a"}}
	out, err := Normalize(in)
	if err != nil {
		t.Fatal(err)
	}
	in["inner"].([]any)[0] = "mutated"
	if out.(map[string]any)["inner"].([]any)[0] != "a" {
		t.Fatal("Normalize result must not share memory with its input")
	}
}

func TestNormalizeKeepsLargeIntegers(t *testing.T) {
	const big = int64(1<<53 + 1)
	got, err := Normalize(big)
	if err != nil {
		t.Fatal(err)
	}
	if got != json.Number("9007199254740993") {
		t.Fatalf("Normalize(%d) = %#v", big, got)
	}

	data, err := Encode(map[string]any{"n": got})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"n":9007199254740993}` {
		t.Fatalf("Encode = %s", data)
	}
	state, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	var n int64
	if err := Convert(state["n"], &n); err != nil || n != big {
		t.Fatalf("Convert = (%d, %v), want %d", n, err, big)
	}
}

func TestDecodeValue(t *testing.T) {
	v, err := DecodeValue([]byte(`[1, "x", null]`))
	if err != nil {
		t.Fatal(err)
	}
	want := []any{json.Number("1"), "x", nil}
	if !reflect.DeepEqual(v, want) {
		t.Fatalf("DecodeValue = %#v, want %#v", v, want)
	}
	for _, bad := range []string{"", "hello world", "1 2"} {
		if _, err := DecodeValue([]byte(bad)); !errors.Is(err, ErrDecode) {
			t.Errorf("DecodeValue(%q) err = %v, want ErrDecode", bad, err)
		}
	}
}

func TestNormalizeRejects(t *testing.T) {
	for _, v := range []any{make(chan int), math.Inf(1)} {
		if _, err := Normalize(v); !errors.Is(err, ErrEncode) {
			t.Errorf("Normalize(%T) err = %v, want ErrEncode", v, err)
		}
	}
}

func TestConvert(t *testing.T) {
	type community struct {
		ID        int      `json:"cid"`
		BanLimit  *float64 `json:"ban_limit"`
		MuteLimit *float64 `json:"mute_limit"`
	}
	var c community
	err := Convert(map[string]any{"cid": json.Number("7"), "ban_limit": 2.5, "mute_limit": nil}, &c)
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != 7 || c.BanLimit == nil || *c.BanLimit != 2.5 || c.MuteLimit != nil {
		t.Fatalf("Convert = %+v", c)
	}

	var n int
	if err := Convert("text", &n); !errors.Is(err, ErrDecode) {
		t.Fatalf("Convert(string -> int) err = %v, want ErrDecode", err)
	}
}
