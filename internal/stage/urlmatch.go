package stage

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// dataURLRe pulls the first http(s) URL stored in a "data" string field.
var dataURLRe = regexp.MustCompile(`"data"\s*:\s*"(https?://[^"]+)"`)

// URLMatcher recognises receipt image URLs on one host.
type URLMatcher struct {
	re *regexp.Regexp
}

// NewURLMatcher builds a matcher for https://<host>/... where host may
// carry a port, e.g. "hddc01.superbrandmall.com:443".
func NewURLMatcher(host string) *URLMatcher {
	return &URLMatcher{re: regexp.MustCompile(`https://` + regexp.QuoteMeta(host) + "/[^\\s<>\"{}|\\\\^`\\[\\]]+")}
}

// Find returns the first receipt URL in s.
func (m *URLMatcher) Find(s string) (string, bool) {
	u := m.re.FindString(s)
	return u, u != ""
}

// ClassifyText decides whether content references a receipt URL. For a
// JSON object with a non-empty "data" field only that field is searched;
// anything else, including invalid JSON, is searched as raw text.
func (m *URLMatcher) ClassifyText(content []byte) bool {
	var doc map[string]any
	if err := json.Unmarshal(content, &doc); err == nil {
		if data, ok := doc["data"]; ok && !emptyValue(data) {
			_, found := m.Find(stringify(data))
			return found
		}
	}
	_, found := m.Find(string(content))
	return found
}

// DownloadURL extracts the URL to fetch: a URL stored in a "data" string
// field wins, otherwise the first receipt-host URL anywhere in content.
func (m *URLMatcher) DownloadURL(content []byte) (string, bool) {
	if sub := dataURLRe.FindSubmatch(content); sub != nil {
		return string(sub[1]), true
	}
	return m.Find(string(content))
}

func emptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case bool:
		return !t
	case float64:
		return t == 0
	}
	return false
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
