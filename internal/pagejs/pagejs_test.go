package pagejs

import (
	"strings"
	"testing"

	"github.com/dgnsrekt/scrollframe/internal/scrollmon"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

func TestJSEvalWrappers(t *testing.T) {
	syncExpr := wrapJSEval("return 1;")
	if !strings.Contains(syncExpr, "(function(){\ntry {") {
		t.Fatalf("unexpected sync wrapper: %s", syncExpr)
	}
	if strings.Contains(syncExpr, "(async function") {
		t.Fatalf("sync wrapper should not be async: %s", syncExpr)
	}

	asyncExpr := wrapJSEvalAsync("await Promise.resolve(1);")
	if !strings.Contains(asyncExpr, "(async function(){\ntry {") {
		t.Fatalf("unexpected async wrapper: %s", asyncExpr)
	}
	if !strings.Contains(asyncExpr, types.CodeEvalFailure) {
		t.Fatalf("async wrapper lost error envelope: %s", asyncExpr)
	}
}

func TestDecode(t *testing.T) {
	var info types.PageInfo
	if err := Decode(`{"ok":true,"data":{"url":"https://example.com","width":1280,"devicePixelRatio":2}}`, &info); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if info.URL != "https://example.com" || info.Width != 1280 || info.DevicePixelRatio != 2 {
		t.Fatalf("info = %+v", info)
	}

	err := Decode(`{"ok":false,"error_code":"CLIPBOARD_FAILED","error_message":"denied"}`, nil)
	if got := types.CodeOf(err); got != types.CodeClipboardFailed {
		t.Fatalf("code = %q; want %q", got, types.CodeClipboardFailed)
	}

	err = Decode(`{"ok":false}`, nil)
	if got := types.CodeOf(err); got != types.CodeEvalFailure {
		t.Fatalf("code = %q; want %q", got, types.CodeEvalFailure)
	}

	err = Decode(`not json`, nil)
	if got := types.CodeOf(err); got != types.CodeEvalFailure {
		t.Fatalf("code = %q; want %q", got, types.CodeEvalFailure)
	}
}

func TestDecodeTree(t *testing.T) {
	raw := `{"ok":true,"data":[
		{"id":"sf-1","scrollHeight":2000,"clientHeight":500,"overflowY":"auto"},
		{"id":"sf-2","parent":"sf-1","scrollHeight":300,"clientHeight":300,"overflowY":"scroll"},
		{"id":"sf-3","parent":"sf-2","scrollWidth":900,"clientWidth":400,"overflowX":"scroll","overflowY":"hidden"}
	]}`
	root, err := DecodeTree(raw)
	if err != nil {
		t.Fatalf("DecodeTree() error = %v", err)
	}
	got := scrollmon.FindScrollableContainers(root)
	want := []scrollmon.ContainerHandle{scrollmon.Window, "sf-1", "sf-3"}
	if len(got) != len(want) {
		t.Fatalf("containers = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("containers = %v; want %v", got, want)
		}
	}
}

func TestParseScrollEvent(t *testing.T) {
	evt, err := ParseScrollEvent(`{"container":"window","scrollTop":640}`)
	if err != nil {
		t.Fatalf("ParseScrollEvent() error = %v", err)
	}
	if evt.Container != scrollmon.Window || evt.ScrollTop != 640 || evt.Listener != scrollmon.Window {
		t.Fatalf("event = %+v", evt)
	}

	evt, err = ParseScrollEvent(`{"container":"sf-9","listener":"window","scrollTop":320}`)
	if err != nil {
		t.Fatalf("ParseScrollEvent() error = %v", err)
	}
	if evt.Container != "sf-9" || evt.Listener != scrollmon.Window || evt.ScrollTop != 320 {
		t.Fatalf("nested event = %+v", evt)
	}
	if _, err := ParseScrollEvent(`{"scrollTop":1}`); err == nil {
		t.Fatal("expected error for event without container")
	}
}

func TestScriptsEmbedArgumentsAsLiterals(t *testing.T) {
	js := Listen(`sf-"1`, ScrollBinding)
	if !strings.Contains(js, `var h = "sf-\"1";`) {
		t.Fatalf("container handle not quoted: %s", js)
	}
	if !strings.Contains(js, `var b = "`+ScrollBinding+`";`) {
		t.Fatalf("binding not embedded: %s", js)
	}

	js = ShowActiveRegion(types.Region{X: 10, Y: 20, Width: 300, Height: 200})
	if !strings.Contains(js, `{"x":10,"y":20,"width":300,"height":200}`) {
		t.Fatalf("region literal missing: %s", js)
	}

	js = WriteHTMLAndText("<p>a</p>", "line\nbreak")
	if !strings.Contains(js, `"line\nbreak"`) || !strings.HasPrefix(js, "(async function") {
		t.Fatalf("clipboard script = %s", js)
	}
}

func TestWindowListenerUsesCapturePhase(t *testing.T) {
	js := Listen(scrollmon.Window, ScrollBinding)
	for _, want := range []string{
		`{passive:true, capture:capture}`,
		`if (el === window) {
  capture = true;`,
		`removeEventListener("scroll", prev.fn, prev.capture)`,
		`sf.listeners[id].el === t) return;`,
	} {
		if !strings.Contains(js, want) {
			t.Fatalf("Listen(window) missing %q", want)
		}
	}

	if js := Unlisten("sf-1"); !strings.Contains(js, `removeEventListener("scroll", prev.fn, prev.capture)`) {
		t.Fatalf("Unlisten() does not match the capture flag: %s", js)
	}
}

func TestDocumentTreeScansRootAndBody(t *testing.T) {
	js := DocumentTree()
	for _, want := range []string{"all.push(document.documentElement)", "all.push(document.body)"} {
		if !strings.Contains(js, want) {
			t.Fatalf("DocumentTree() missing %q", want)
		}
	}
}
