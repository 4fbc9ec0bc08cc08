package cdp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/scrollframe/internal/types"
)

func TestMatchesTabURL(t *testing.T) {
	c := NewClient("http://127.0.0.1:9222", " Example.COM ", time.Second)
	defer c.Close()

	if !c.matchesTabURL("https://www.example.com/post/1") {
		t.Fatal("filter should match case-insensitively")
	}
	if c.matchesTabURL("https://other.test/") {
		t.Fatal("filter matched an unrelated URL")
	}

	all := NewClient("http://127.0.0.1:9222", "", time.Second)
	defer all.Close()
	if !all.matchesTabURL("about:blank") {
		t.Fatal("empty filter should match everything")
	}
}

func TestOriginOfAndTruncateURL(t *testing.T) {
	if got := originOf("https://example.com/a?b=1"); got != "https://example.com" {
		t.Fatalf("originOf = %q", got)
	}
	if got := originOf("data:text/html,hi"); got != "" {
		t.Fatalf("originOf(data:) = %q; want empty", got)
	}
	long := "https://example.com/" + strings.Repeat("x", 200)
	if got := truncateURL(long); len(got) != 123 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncateURL len = %d", len(got))
	}
}

func TestUnconnectedClientReportsCDPUnavailable(t *testing.T) {
	c := NewClient("http://127.0.0.1:9222", "", time.Second)
	defer c.Close()

	if _, ok := c.Current(); ok {
		t.Fatal("Current() reported a page before Connect")
	}
	if _, err := c.PageInfo(context.Background()); types.CodeOf(err) != types.CodeCDPUnavailable {
		t.Fatalf("PageInfo() error = %v; want %s", err, types.CodeCDPUnavailable)
	}
	if _, err := c.CaptureViewport(context.Background()); types.CodeOf(err) != types.CodeCDPUnavailable {
		t.Fatalf("CaptureViewport() error = %v; want %s", err, types.CodeCDPUnavailable)
	}
	if _, err := c.ListPages(context.Background()); types.CodeOf(err) != types.CodeCDPUnavailable {
		t.Fatalf("ListPages() error = %v; want %s", err, types.CodeCDPUnavailable)
	}
}

func TestClipboardErrWrapsUncodedFailures(t *testing.T) {
	if err := clipboardErr(nil); err != nil {
		t.Fatalf("clipboardErr(nil) = %v", err)
	}
	err := clipboardErr(errors.New("boom"))
	if types.CodeOf(err) != types.CodeClipboardFailed {
		t.Fatalf("code = %q; want %q", types.CodeOf(err), types.CodeClipboardFailed)
	}
	orig := types.NewError(types.CodeClipboardFailed, "denied", nil)
	if got := clipboardErr(orig); got != orig {
		t.Fatalf("clipboardErr rewrapped a clipboard error: %v", got)
	}
}
