package httpengine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

type pathSegment struct {
	key     string
	index   int
	isIndex bool
}

func (s pathSegment) String() string {
	if s.isIndex {
		return fmt.Sprintf("[%d]", s.index)
	}
	return "." + s.key
}

// ApplyFilter selects the value at path from a JSON body.
// Structural problems are returned as descriptive strings, never as errors:
// the result always becomes the source content.
func ApplyFilter(body []byte, path string) string {
	segments, err := parsePath(path)
	if err != nil {
		return fmt.Sprintf("Filter error: %v", err)
	}

	if !gjson.ValidBytes(body) {
		if len(segments) == 0 {
			return string(body)
		}
		return fmt.Sprintf("Filter error: response is not valid JSON, cannot apply path '%s'", path)
	}

	cur := gjson.ParseBytes(body)
	walked := "root"
	for _, seg := range segments {
		switch {
		case seg.isIndex, cur.IsArray() && isDigits(seg.key):
			idx := seg.index
			if !seg.isIndex {
				idx, _ = strconv.Atoi(seg.key)
			}
			if !cur.IsArray() {
				return fmt.Sprintf("Filter error: '%s' is not an array", walked)
			}
			items := cur.Array()
			if idx >= len(items) {
				return fmt.Sprintf("Filter error: index %d out of bounds at '%s' (length %d)", idx, walked, len(items))
			}
			cur = items[idx]
			walked += fmt.Sprintf("[%d]", idx)
		default:
			if !cur.IsObject() {
				return fmt.Sprintf("Filter error: '%s' is not an object, cannot read key '%s'", walked, seg.key)
			}
			next, ok := cur.Map()[seg.key]
			if !ok {
				return fmt.Sprintf("Filter error: key '%s' not found at '%s'", seg.key, walked)
			}
			cur = next
			walked += seg.String()
		}
	}

	return renderValue(cur)
}

func renderValue(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Null:
		return "null"
	case gjson.JSON:
		return strings.TrimRight(string(pretty.Pretty([]byte(v.Raw))), "\n")
	default:
		return v.Raw
	}
}

// parsePath splits a dot/bracket path such as root.data.items[2]['a.b'].
func parsePath(path string) ([]pathSegment, error) {
	p := strings.TrimSpace(path)
	switch {
	case p == "root":
		p = ""
	case strings.HasPrefix(p, "root."):
		p = p[len("root."):]
	case strings.HasPrefix(p, "root["):
		p = p[len("root"):]
	}

	var segments []pathSegment
	for i := 0; i < len(p); {
		switch p[i] {
		case '.':
			i++
		case '[':
			if i+1 < len(p) && (p[i+1] == '\'' || p[i+1] == '"') {
				// Quoted keys may contain '.' or ']' so scan for the closing quote.
				q := p[i+1]
				closeQuote := strings.IndexByte(p[i+2:], q)
				if closeQuote < 0 {
					return nil, fmt.Errorf("unclosed quote in path '%s'", path)
				}
				after := i + 2 + closeQuote + 1
				if after >= len(p) || p[after] != ']' {
					return nil, fmt.Errorf("expected ']' after quoted key in path '%s'", path)
				}
				segments = append(segments, pathSegment{key: p[i+2 : i+2+closeQuote]})
				i = after + 1
				continue
			}
			end := strings.IndexByte(p[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unclosed '[' in path '%s'", path)
			}
			inner := strings.TrimSpace(p[i+1 : i+end])
			n, err := strconv.Atoi(inner)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid index '%s' in path '%s'", inner, path)
			}
			segments = append(segments, pathSegment{index: n, isIndex: true})
			i += end + 1
		default:
			end := strings.IndexAny(p[i:], ".[")
			if end < 0 {
				end = len(p) - i
			}
			segments = append(segments, pathSegment{key: p[i : i+end]})
			i += end
		}
	}
	return segments, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
