package mastodon

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dmitrijs2005/fedisync/internal/common"
)

// Link is one entry of a Link header.
type Link struct {
	URL string
	Rel string
}

var linkEntry = regexp.MustCompile(`^<([^>]+)>\s*;\s*rel="?(\w+)"?$`)

// ParseLinkHeader parses `<url>; rel="next", <url>; rel="prev"`. An empty
// value yields no links; any unparsable entry fails the whole header with
// common.ErrMalformedCursor.
func ParseLinkHeader(value string) ([]Link, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	var links []Link
	for _, part := range strings.Split(value, ",") {
		m := linkEntry.FindStringSubmatch(strings.TrimSpace(part))
		if m == nil {
			return nil, fmt.Errorf("%w: %q", common.ErrMalformedCursor, part)
		}
		links = append(links, Link{URL: m[1], Rel: m[2]})
	}
	return links, nil
}

// Cursors extracts the next and prev URLs of a Link header.
func Cursors(value string) (next, prev string, err error) {
	links, err := ParseLinkHeader(value)
	if err != nil {
		return "", "", err
	}
	for _, l := range links {
		switch l.Rel {
		case "next":
			next = l.URL
		case "prev":
			prev = l.URL
		}
	}
	return next, prev, nil
}
