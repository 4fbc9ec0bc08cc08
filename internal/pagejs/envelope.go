// Package pagejs builds the scripts evaluated inside the attached page and
// decodes their results. Every script is wrapped in an IIFE that returns a
// JSON envelope {ok, data, error_code, error_message} as a string, so both
// page drivers share one decoding path.
package pagejs

import (
	"encoding/json"
	"fmt"

	"github.com/dgnsrekt/scrollframe/internal/scrollmon"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

// ScrollBinding is the Runtime binding page listeners call with
// JSON-encoded scroll events.
const ScrollBinding = "__scrollframeScroll"

// Envelope is the decoded result of a wrapped script.
type Envelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Decode unmarshals a script result into out. A non-ok envelope becomes a
// CodedError carrying the page's error code.
func Decode(raw string, out any) error {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return types.NewError(types.CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = types.CodeEvalFailure
		}
		return types.NewError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return types.NewError(types.CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func buildIIFE(async bool, body string) string {
	prefix := "(function(){\n"
	if async {
		prefix = "(async function(){\n"
	}
	return prefix + `try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + types.CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

func wrapJSEval(body string) string      { return buildIIFE(false, body) }
func wrapJSEvalAsync(body string) string { return buildIIFE(true, body) }

// DecodeTree decodes a DocumentTree result into a scroll geometry tree.
func DecodeTree(raw string) (*scrollmon.Node, error) {
	var flat []scrollmon.FlatNode
	if err := Decode(raw, &flat); err != nil {
		return nil, err
	}
	return scrollmon.BuildTree(flat), nil
}

// ScrollEvent is a binding payload sent by a Listen handler. Listener is the
// handle passed to Listen; it differs from Container when the window's
// capturing listener reports a nested scroll.
type ScrollEvent struct {
	scrollmon.Event
	Listener scrollmon.ContainerHandle `json:"listener"`
}

// ParseScrollEvent decodes a binding payload sent by a Listen handler.
func ParseScrollEvent(payload string) (ScrollEvent, error) {
	var evt ScrollEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return ScrollEvent{}, fmt.Errorf("pagejs: scroll event: %w", err)
	}
	if evt.Container == "" {
		return ScrollEvent{}, fmt.Errorf("pagejs: scroll event without container")
	}
	if evt.Listener == "" {
		evt.Listener = evt.Container
	}
	return evt, nil
}
