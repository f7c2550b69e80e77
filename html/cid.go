package html

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/andybalholm/cascadia"
	xhtml "golang.org/x/net/html"
)

const cidScheme = "cid:"

var cidSelector = cascadia.MustCompile(`[src^="cid:"], [href^="cid:"]`)

// ContentIDs returns the content identifiers that markup references through
// cid: URLs (RFC 2392), in document order and without duplicates.
func ContentIDs(markup string) ([]string, error) {
	doc, err := xhtml.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("can't parse the HTML: %v", err)
	}

	var ids []string
	seen := map[string]struct{}{}
	for _, n := range cidSelector.MatchAll(doc) {
		for _, a := range n.Attr {
			if a.Key != "src" && a.Key != "href" {
				continue
			}
			if !strings.HasPrefix(a.Val, cidScheme) {
				continue
			}
			id := strings.TrimPrefix(a.Val, cidScheme)
			// cid URLs are percent-encoded
			if u, err := url.PathUnescape(id); err == nil {
				id = u
			}
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}
