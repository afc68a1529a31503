package jsondoc

import "testing"

func TestFromAndDecode(t *testing.T) {
	j, err := From(map[string]string{"os_family": "Linux"})
	if err != nil {
		t.Fatalf("from: %v", err)
	}
	var out map[string]string
	if err := j.Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["os_family"] != "Linux" {
		t.Fatalf("unexpected decoded value: %+v", out)
	}
}

func TestScanRejectsInvalid(t *testing.T) {
	var j JSON
	if err := j.Scan("{not json"); err == nil {
		t.Fatalf("expected error for invalid payload")
	}
	if err := j.Scan(42); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
	if err := j.Scan(nil); err != nil || j != nil {
		t.Fatalf("nil scan should reset document, got %v %q", err, j)
	}
}

func TestValueEmptyIsNull(t *testing.T) {
	v, err := JSON(nil).Value()
	if err != nil || v != nil {
		t.Fatalf("expected nil value, got %v %v", v, err)
	}
	v, err = JSON(`{"a":1}`).Value()
	if err != nil || v.(string) != `{"a":1}` {
		t.Fatalf("unexpected value %v %v", v, err)
	}
}
