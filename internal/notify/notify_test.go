package notify

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/dgnsrekt/scrollframe/internal/quota"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

const testMessage = "Capture stopped with 3 frame(s) ready to copy."

func okResponse() *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Header:     make(http.Header),
	}
}

func TestSendPostsMessage(t *testing.T) {
	ctx := context.Background()

	var receivedMethod string
	var receivedPath string
	var receivedBody string
	var receivedContentType string

	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			receivedMethod = r.Method
			receivedPath = r.URL.Path
			receivedContentType = r.Header.Get("Content-Type")
			rawBody, err := io.ReadAll(r.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			receivedBody = string(rawBody)
			return okResponse(), nil
		}),
	}

	if err := Send(ctx, client, "http://example.com/scrollframe", testMessage); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got, want := receivedMethod, http.MethodPost; got != want {
		t.Fatalf("method = %q; want %q", got, want)
	}
	if got, want := receivedPath, "/scrollframe"; got != want {
		t.Fatalf("path = %q; want %q", got, want)
	}
	if got, want := receivedContentType, "text/plain"; got != want {
		t.Fatalf("content-type = %q; want %q", got, want)
	}
	if got, want := receivedBody, testMessage; got != want {
		t.Fatalf("body = %q; want %q", got, want)
	}
}

func TestSendReturnsErrorForServerError(t *testing.T) {
	ctx := context.Background()

	client := &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusInternalServerError,
				Body:       io.NopCloser(strings.NewReader("server failure")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	err := Send(ctx, client, "http://example.com/scrollframe", testMessage)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "ntfy notification failed") {
		t.Fatalf("error = %q; want to contain %q", err, "ntfy notification failed")
	}
}

func TestSendDisallowsMissingEndpoint(t *testing.T) {
	ctx := context.Background()
	err := Send(ctx, http.DefaultClient, "", testMessage)
	if err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestNotifierSendsMilestones(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			raw, _ := io.ReadAll(r.Body)
			mu.Lock()
			bodies = append(bodies, string(raw))
			mu.Unlock()
			return okResponse(), nil
		}),
	}

	n := NewNotifier(client, "http://example.com/scrollframe")
	n.CaptureStateChanged(types.CaptureState{State: "active", IsActive: true, FrameCount: 3})
	n.CaptureStateChanged(types.CaptureState{State: "stopped", FrameCount: 3})
	n.CaptureStateChanged(types.CaptureState{State: "stopped", FrameCount: 3})
	n.QuotaExceeded(quota.State{DailyCount: quota.FreeLimit})
	n.Notice(types.Notice{Level: types.NoticeInfo, Message: "copied"})
	n.Notice(types.Notice{Level: types.NoticeError, Message: "capture failed"})
	n.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 3 {
		t.Fatalf("sent %d messages; want 3: %q", len(bodies), bodies)
	}
	if bodies[0] != testMessage {
		t.Fatalf("bodies[0] = %q; want %q", bodies[0], testMessage)
	}
	if !strings.Contains(bodies[1], "Daily free limit of 10") {
		t.Fatalf("bodies[1] = %q", bodies[1])
	}
	if bodies[2] != "capture failed" {
		t.Fatalf("bodies[2] = %q", bodies[2])
	}
}

func TestNotifierIgnoresEventsAfterClose(t *testing.T) {
	called := false
	client := &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			called = true
			return okResponse(), nil
		}),
	}
	n := NewNotifier(client, "http://example.com/scrollframe")
	n.Close()
	n.Notice(types.Notice{Level: types.NoticeError, Message: "late"})
	n.Close()
	if called {
		t.Fatal("message sent after Close")
	}
}
