// Package dump renders request/response pairs for error messages and diagnostics.
package dump

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	maxPlainBody = 100
	maskValue    = "***"
)

var sensitiveHeaders = map[string]struct{}{
	"Authorization":       {},
	"Proxy-Authorization": {},
	"Cookie":              {},
	"Set-Cookie":          {},
	"X-Api-Key":           {},
}

// Message is one side of an HTTP exchange.
type Message struct {
	Title     string
	StartLine string
	Header    http.Header
	Body      []byte
}

func Request(method, url string, header http.Header, body []byte) Message {
	return Message{Title: "REQUEST", StartLine: method + " " + url, Header: header, Body: body}
}

func Response(proto, status string, header http.Header, body []byte) Message {
	return Message{Title: "RESPONSE", StartLine: proto + " " + status, Header: header, Body: body}
}

// Banner renders the message with headers and indented JSON.
func (m Message) Banner() string {
	var b strings.Builder
	b.WriteString("=== " + m.Title + " ===\n")
	b.WriteString(m.StartLine + "\n\n")
	b.WriteString(m.headers() + "\n\n")
	if body := m.body("    "); body != "" {
		b.WriteString("(" + body + ")")
	}
	return b.String()
}

// Inline renders the message on one line without headers.
func (m Message) Inline() string {
	parts := []string{"=== " + m.Title + " ===", m.StartLine}
	if body := m.body(""); body != "" {
		parts = append(parts, "("+strings.ReplaceAll(body, "\n", " ")+")")
	}
	return strings.Join(parts, " ")
}

// Exchange renders a request and its response, on separate banners or on one line.
func Exchange(req, resp Message, inline bool) string {
	if inline {
		return req.Inline() + " " + resp.Inline()
	}
	return "\n" + req.Banner() + "\n\n" + resp.Banner()
}

func (m Message) headers() string {
	keys := make([]string, 0, len(m.Header))
	for k := range m.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		value := strings.Join(m.Header[k], ", ")
		if _, ok := sensitiveHeaders[http.CanonicalHeaderKey(k)]; ok {
			value = maskValue
		}
		lines = append(lines, http.CanonicalHeaderKey(k)+": "+value)
	}
	return strings.Join(lines, "\n")
}

// body re-encodes JSON bodies with sorted keys; anything else is truncated.
func (m Message) body(indent string) string {
	if len(m.Body) == 0 {
		return ""
	}
	if strings.Contains(m.Header.Get("Content-Type"), "application/json") {
		if pretty, ok := reencode(m.Body, indent); ok {
			return pretty
		}
	}
	text := string(m.Body)
	if len(text) > maxPlainBody {
		cut := maxPlainBody
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		return text[:cut] + " ... [skipped]"
	}
	return text
}

func reencode(body []byte, indent string) (string, bool) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var v any
	if err := decoder.Decode(&v); err != nil {
		return "", false
	}
	var out []byte
	var err error
	if indent == "" {
		out, err = json.Marshal(v)
	} else {
		out, err = json.MarshalIndent(v, "", indent)
	}
	if err != nil {
		return "", false
	}
	return string(out), true
}
