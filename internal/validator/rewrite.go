package validator

import (
	"bytes"
	"regexp"
	"strings"

	json "github.com/goccy/go-json"
)

// monitoredFields are the names whose values encode a Plex media type.
// Matching is case-insensitive because the HDHomeRun surface emits
// PascalCase keys (ContentType) for the same concept.
var monitoredFields = []string{"type", "contentType", "content_type", "mediaType"}

// typeLabels maps the string type names Plex reads as type code 5 to
// their live TV equivalents.
var typeLabels = map[string]string{
	"trailer": "clip",
	"movie":   "episode",
}

func monitoredField(name string) bool {
	for _, f := range monitoredFields {
		if strings.EqualFold(name, f) {
			return true
		}
	}
	return false
}

// RewriteJSON walks a JSON document and replaces type code 5 with 4 in
// monitored fields, and the fatal type labels with their live TV
// equivalents. It returns the body unchanged when nothing matched or the
// document does not parse.
func RewriteJSON(body []byte) ([]byte, int) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return body, 0
	}
	count := 0
	doc = rewriteValue("", doc, &count)
	if count == 0 {
		return body, 0
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return body, 0
	}
	return out, count
}

// rewriteValue recurses through decoded JSON. Array elements inherit the
// key of the field that holds the array.
func rewriteValue(key string, v any, count *int) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = rewriteValue(k, child, count)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = rewriteValue(key, child, count)
		}
		return t
	case float64:
		if t == 5 && monitoredField(key) {
			*count++
			return float64(4)
		}
		return t
	case string:
		if !monitoredField(key) {
			return t
		}
		if repl, ok := typeLabels[t]; ok {
			*count++
			return repl
		}
		if t == "5" {
			*count++
			return "4"
		}
		return t
	default:
		return v
	}
}

// Attribute patterns only: the XML this process emits carries media types
// exclusively as attributes. Longer alternatives come first so contentType
// is not half-matched as type.
var (
	xmlTypeCode  = regexp.MustCompile(`(?i)\b(contentType|content_type|mediaType|type)="5"`)
	xmlTypeLabel = regexp.MustCompile(`(?i)\btype="(trailer|movie)"`)
)

// RewriteXML replaces forbidden type codes in XML attributes. It works on
// the raw bytes; re-encoding a parsed tree would reorder attributes and
// churn every response for the rare body that needs fixing.
func RewriteXML(body []byte) ([]byte, int) {
	count := 0
	out := xmlTypeCode.ReplaceAllFunc(body, func(m []byte) []byte {
		count++
		b := make([]byte, 0, len(m))
		b = append(b, m[:len(m)-2]...)
		return append(b, '4', '"')
	})
	out = xmlTypeLabel.ReplaceAllFunc(out, func(m []byte) []byte {
		count++
		label := "clip"
		if bytes.Contains(bytes.ToLower(m), []byte("movie")) {
			label = "episode"
		}
		i := bytes.IndexByte(m, '"')
		b := make([]byte, 0, i+1+len(label)+1)
		b = append(b, m[:i+1]...)
		b = append(b, label...)
		return append(b, '"')
	})
	return out, count
}
