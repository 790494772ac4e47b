package cache

import (
	"strings"
	"testing"
)

func TestEncodeTagsSorted(t *testing.T) {
	got := string(EncodeTags(map[string]string{"tile-info": "no-tile", "etag": `"x"`}))
	if want := "etag=\"x\"\ntile-info=no-tile\n"; got != want {
		t.Errorf("EncodeTags = %q, want %q", got, want)
	}
	if got := EncodeTags(nil); len(got) != 0 {
		t.Errorf("EncodeTags(nil) = %q", got)
	}
}

func TestDecodeTags(t *testing.T) {
	in := "etag=\"abc\"\r\n=novalue\nbroken line\n\ncapture-date=2010-2012\nurl=http://x/?a=b\n"

	var malformed []string
	tags, err := DecodeTags(strings.NewReader(in), func(line string) {
		malformed = append(malformed, line)
	})
	if err != nil {
		t.Fatalf("DecodeTags: %v", err)
	}

	want := map[string]string{
		"etag":         `"abc"`,
		"capture-date": "2010-2012",
		"url":          "http://x/?a=b",
	}
	if len(tags) != len(want) {
		t.Errorf("tags = %v, want %v", tags, want)
	}
	for k, v := range want {
		if tags[k] != v {
			t.Errorf("tags[%q] = %q, want %q", k, tags[k], v)
		}
	}
	if len(malformed) != 2 {
		t.Errorf("malformed lines = %q, want 2", malformed)
	}
}
