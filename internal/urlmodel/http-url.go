package urlmodel

import (
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"
	"unicode"
)

const maxPort = 65535

// Parse builds a URL from raw text, normalizes its path and validates it.
func Parse(raw string) (*URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, &InvalidURLError{
			URL:     raw,
			Fields:  []string{"url"},
			Reasons: []string{"URL is malformed: " + err.Error()},
		}
	}
	u := &URL{
		scheme:   parsed.Scheme,
		host:     parsed.Hostname(),
		path:     normalizePath(parsed.EscapedPath()),
		rawQuery: parsed.RawQuery,
		fragment: parsed.Fragment,
	}
	if parsed.User != nil {
		u.user = parsed.User.Username()
		u.password, u.hasPassword = parsed.User.Password()
	}
	if p := parsed.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port == 0 {
			port = -1
		}
		u.port = port
	}
	if err := u.validate(); err != nil {
		return nil, err
	}
	return u, nil
}

// AppendSegment returns a copy of u whose path is extended by segment and,
// when trailingSlash is set, terminated by "/". The receiver is not modified.
// Every "/" in segment separates path segments; anything else is escaped.
func (u *URL) AppendSegment(segment string, trailingSlash bool) (*URL, error) {
	c := u.Copy()
	joined := c.path
	if segment != "" {
		if !strings.HasSuffix(joined, "/") {
			joined += "/"
		}
		joined += strings.TrimPrefix(escapeSegments(segment), "/")
	}
	if trailingSlash && !strings.HasSuffix(joined, "/") {
		joined += "/"
	}
	c.path = normalizePath(joined)
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// WithQuery returns a copy of u with extra query parameters appended after the existing ones.
func (u *URL) WithQuery(extra url.Values) *URL {
	c := u.Copy()
	if len(extra) == 0 {
		return c
	}
	encoded := extra.Encode()
	if c.rawQuery == "" {
		c.rawQuery = encoded
	} else {
		c.rawQuery += "&" + encoded
	}
	return c
}

// Root returns a copy of u pointing at "/".
func (u *URL) Root() *URL {
	c := u.Copy()
	c.path = "/"
	return c
}

// Copy returns an independent copy of u.
func (u *URL) Copy() *URL {
	c := *u
	return &c
}

func (u *URL) Scheme() string   { return u.scheme }
func (u *URL) User() string     { return u.user }
func (u *URL) Host() string     { return u.host }
func (u *URL) Port() int        { return u.port }
func (u *URL) Fragment() string { return u.fragment }

// Path is the decoded path. Encoded separators such as %2F come back as "/".
func (u *URL) Path() string {
	p, err := url.PathUnescape(u.path)
	if err != nil {
		return u.path
	}
	return p
}

// EscapedPath is the path as sent on the wire.
func (u *URL) EscapedPath() string { return u.path }

// Query returns a fresh copy of the query parameters.
func (u *URL) Query() url.Values {
	values, _ := url.ParseQuery(u.rawQuery)
	return values
}

// String renders scheme://[user[:password]@]host[:port]/path[?query][#fragment].
func (u *URL) String() string {
	return u.stdURL().String()
}

// Redacted is String with the password replaced by "xxxxx".
func (u *URL) Redacted() string {
	return u.stdURL().Redacted()
}

func (u *URL) stdURL() *url.URL {
	host := u.host
	if u.port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(u.port))
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	r := &url.URL{
		Scheme:   u.scheme,
		Host:     host,
		Path:     u.Path(),
		RawPath:  u.path,
		RawQuery: u.rawQuery,
		Fragment: u.fragment,
	}
	if u.hasPassword {
		r.User = url.UserPassword(u.user, u.password)
	} else if u.user != "" {
		r.User = url.User(u.user)
	}
	return r
}

func (u *URL) validate() error {
	var fields, reasons []string
	if u.scheme != "http" && u.scheme != "https" {
		fields = append(fields, "scheme")
		reasons = append(reasons, "URL `scheme` is missing or invalid (`http` or `https` is expected)")
	}
	if u.host == "" {
		fields = append(fields, "host")
		reasons = append(reasons, "URL `host` is missing or invalid")
	}
	if u.port < 0 || u.port > maxPort {
		fields = append(fields, "port")
		reasons = append(reasons, "URL `port` is malformed or invalid")
	}
	if decoded, err := url.PathUnescape(u.path); u.path == "" || err != nil || strings.IndexFunc(decoded, unicode.IsControl) >= 0 {
		fields = append(fields, "path")
		reasons = append(reasons, "URL `path` is missing or invalid")
	}
	if len(fields) == 0 {
		return nil
	}
	return &InvalidURLError{URL: u.Redacted(), Fields: fields, Reasons: reasons}
}

func escapeSegments(segment string) string {
	parts := strings.Split(segment, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// normalizePath works on the escaped path. It collapses repeated slashes and resolves dot segments lexically.
// A trailing slash survives, and a trailing "." or ".." implies one.
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	trailing := strings.HasSuffix(p, "/")
	if !trailing {
		last := p[strings.LastIndex(p, "/")+1:]
		trailing = last == "." || last == ".."
	}
	cleaned := path.Clean("/" + p)
	if trailing && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}
