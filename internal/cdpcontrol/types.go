package cdpcontrol

import (
	"net/url"
	"strings"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/scrollframe/internal/types"
)

// PageTarget is the driver-neutral tab description.
type PageTarget = types.PageTarget

func newError(code, msg string, cause error) error {
	return types.NewError(code, msg, cause)
}

// pageTargets keeps page targets whose URL contains filter (case-insensitive).
// Browser-internal pages are skipped.
func pageTargets(targets []*target.Info, filter string) []PageTarget {
	out := make([]PageTarget, 0, len(targets))
	for _, t := range targets {
		if t == nil || t.Type != "page" {
			continue
		}
		lower := strings.ToLower(t.URL)
		if strings.HasPrefix(lower, "devtools://") || strings.HasPrefix(lower, "chrome-extension://") {
			continue
		}
		if filter != "" && !strings.Contains(lower, filter) {
			continue
		}
		out = append(out, PageTarget{TargetID: string(t.TargetID), URL: t.URL, Title: t.Title})
	}
	return out
}

// selectTarget picks targetID from pages, or the first page when targetID is
// empty.
func selectTarget(pages []PageTarget, targetID string) (PageTarget, bool) {
	for _, p := range pages {
		if targetID == "" || p.TargetID == targetID {
			return p, true
		}
	}
	return PageTarget{}, false
}

// origin returns scheme://host of a page URL, or "" for opaque URLs.
func origin(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
