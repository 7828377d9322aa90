package assets

import (
	"bytes"
	"testing"
)

func TestBuild(t *testing.T) {
	page, err := Build(NewMinifier())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, want := range []string{"<title>Globe</title>", "/api/config", "#minimap"} {
		if !bytes.Contains(page, []byte(want)) {
			t.Errorf("page missing %q", want)
		}
	}
	if bytes.Contains(page, []byte("{{")) {
		t.Error("template directives left in page")
	}
}

func TestMinifyJSON(t *testing.T) {
	out, err := NewMinifier().Bytes("application/json", []byte("{\n  \"a\": [1, 2]\n}"))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"a":[1,2]}` {
		t.Errorf("minified = %s", out)
	}
}
