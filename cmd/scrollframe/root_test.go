package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/scrollframe/internal/kvstore"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd()
	if cmd.Use != "scrollframe" {
		t.Fatalf("Use = %q; want scrollframe", cmd.Use)
	}
	flag := cmd.PersistentFlags().Lookup("verbose")
	if flag == nil || flag.Shorthand != "v" || flag.DefValue != "false" {
		t.Fatalf("verbose flag = %+v", flag)
	}
	if cmd.PersistentFlags().Lookup("profile") == nil {
		t.Fatal("missing --profile flag")
	}

	want := map[string]bool{"serve": false, "frames": false, "license": false, "version": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing subcommand %q", name)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "scrollframe version ") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"debug": "DEBUG", "warn": "WARN", "error": "ERROR", "info": "INFO", "loud": "INFO"}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q) = %s; want %s", in, got, want)
		}
	}
}

// isolate points every data path at a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SCROLLFRAME_DATA_DIR", dir)
	t.Setenv("SCROLLFRAME_DB_PATH", "")
	t.Setenv("SCROLLFRAME_EXPORT_DIR", "")
	t.Setenv("SCROLLFRAME_LOG_FILE", "")
	t.Setenv("SCROLLFRAME_DRIVER", "")
	return dir
}

func seedFrames(t *testing.T, dir string) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(1, 1, color.NRGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}

	kv, err := kvstore.OpenSQLite(filepath.Join(dir, "scrollframe.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer kv.Close()
	frames := []types.Frame{{
		ID:         "frame-1",
		SessionID:  "session-1",
		Number:     1,
		Image:      buf.Bytes(),
		Timestamp:  time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		Annotation: "first line\nsecond line",
		PageTitle:  "Release notes",
	}}
	if err := kv.Set(context.Background(), map[string]any{kvstore.KeyFrames: frames}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("%v: Execute() error = %v", args, err)
	}
	return out.String()
}

func TestFramesListEmptyStore(t *testing.T) {
	isolate(t)
	if got := run(t, "frames", "list"); got != "no frames saved\n" {
		t.Fatalf("output = %q", got)
	}
	if got := strings.TrimSpace(run(t, "frames", "list", "--json")); got != "[]" {
		t.Fatalf("json output = %q", got)
	}
}

func TestFramesListShowsSavedFrames(t *testing.T) {
	dir := isolate(t)
	seedFrames(t, dir)

	got := run(t, "frames", "list")
	if !strings.Contains(got, "frame-1") || !strings.Contains(got, "Release notes") {
		t.Fatalf("output = %q", got)
	}
	if !strings.Contains(got, "first line ...") {
		t.Fatalf("annotation not shortened: %q", got)
	}
}

func TestFramesExportWritesFile(t *testing.T) {
	dir := isolate(t)
	seedFrames(t, dir)
	out := filepath.Join(dir, "capture.html")

	got := run(t, "frames", "export", "--format", "html", "--out", out)
	if !strings.Contains(got, "exported 1 frame(s) as html") {
		t.Fatalf("output = %q", got)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "data:image/png;base64,") {
		t.Fatalf("html missing inline image: %.200s", data)
	}
}

func TestLicenseStatusDefaultsToFree(t *testing.T) {
	isolate(t)
	got := run(t, "license", "status")
	if !strings.Contains(got, `"plan": "free"`) {
		t.Fatalf("output = %q", got)
	}
}
