package urlmodel

import (
	"fmt"
	"strings"
)

// URL is an absolute http(s) URL with a normalized path.
// Values are never mutated after construction; every derivation returns a copy.
type URL struct {
	scheme      string
	user        string
	password    string
	hasPassword bool
	host        string
	port        int
	path        string
	rawQuery    string
	fragment    string
}

// InvalidURLError reports every malformed component of a URL at once.
type InvalidURLError struct {
	URL     string
	Fields  []string
	Reasons []string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid URL `%s`: %s", e.URL, strings.Join(e.Reasons, "; "))
}

// HasField reports whether the named component was rejected.
func (e *InvalidURLError) HasField(field string) bool {
	for _, f := range e.Fields {
		if f == field {
			return true
		}
	}
	return false
}
