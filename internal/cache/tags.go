package cache

import (
	"bufio"
	"bytes"
	"io"
	"maps"
	"slices"
	"strings"
)

// EncodeTags writes tags as "key=value" lines sorted by key.
func EncodeTags(tags map[string]string) []byte {
	var buf bytes.Buffer
	for _, k := range slices.Sorted(maps.Keys(tags)) {
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(tags[k])
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// DecodeTags parses "key=value" lines. Lines without a key are passed to
// malformed, if set, and skipped.
func DecodeTags(r io.Reader, malformed func(line string)) (map[string]string, error) {
	tags := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			if malformed != nil {
				malformed(line)
			}
			continue
		}
		tags[line[:i]] = line[i+1:]
	}
	return tags, sc.Err()
}
