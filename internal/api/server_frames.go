package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/scrollframe/internal/controller"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

type frameIDInput struct {
	FrameID string `path:"frame_id"`
}

type frameOutput struct {
	Body types.FrameSummary
}

type copyOutput struct {
	Body controller.CopyResult
}

func registerFrameHandlers(api huma.API, svc Service) {
	type listOutput struct {
		Body struct {
			Count  int                  `json:"count"`
			Frames []types.FrameSummary `json:"frames"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-frames", Method: http.MethodGet, Path: "/api/v1/frames", Summary: "List captured frames in order", Tags: []string{"Frames"}},
		func(ctx context.Context, input *struct{}) (*listOutput, error) {
			out := &listOutput{}
			out.Body.Frames = svc.ListFrames()
			if out.Body.Frames == nil {
				out.Body.Frames = []types.FrameSummary{}
			}
			out.Body.Count = len(out.Body.Frames)
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-frame", Method: http.MethodGet, Path: "/api/v1/frames/{frame_id}", Summary: "Get frame metadata", Tags: []string{"Frames"}},
		func(ctx context.Context, input *frameIDInput) (*frameOutput, error) {
			f, err := svc.GetFrame(input.FrameID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &frameOutput{Body: f}, nil
		})

	type imageOutput struct {
		ContentType  string `header:"Content-Type"`
		CacheControl string `header:"Cache-Control"`
		Body         []byte
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-frame-image",
		Method:      http.MethodGet,
		Path:        "/api/v1/frames/{frame_id}/image",
		Summary:     "Get the cropped frame image",
		Tags:        []string{"Frames"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Frame image",
				Content: map[string]*huma.MediaType{
					"image/png": {
						Schema: &huma.Schema{Type: "string", Format: "binary"},
					},
				},
			},
		},
	}, func(ctx context.Context, input *frameIDInput) (*imageOutput, error) {
		data, err := svc.FrameImage(input.FrameID)
		if err != nil {
			return nil, mapErr(err)
		}
		return &imageOutput{ContentType: "image/png", CacheControl: "private, max-age=3600", Body: data}, nil
	})

	huma.Register(api, huma.Operation{OperationID: "delete-frame", Method: http.MethodDelete, Path: "/api/v1/frames/{frame_id}", Summary: "Delete a frame and renumber the rest", Tags: []string{"Frames"}},
		func(ctx context.Context, input *frameIDInput) (*struct{}, error) {
			if err := svc.DeleteFrame(input.FrameID); err != nil {
				return nil, mapErr(err)
			}
			return nil, nil
		})

	type annotationInput struct {
		FrameID string `path:"frame_id"`
		Body    struct {
			Text string `json:"text" doc:"Annotation text; empty clears it" maxLength:"10000"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "update-annotation", Method: http.MethodPut, Path: "/api/v1/frames/{frame_id}/annotation", Summary: "Replace a frame's annotation", Tags: []string{"Frames"}},
		func(ctx context.Context, input *annotationInput) (*frameOutput, error) {
			f, err := svc.UpdateAnnotation(input.FrameID, input.Body.Text)
			if err != nil {
				return nil, mapErr(err)
			}
			return &frameOutput{Body: f}, nil
		})

	type reorderInput struct {
		Body struct {
			From int `json:"from" doc:"Current 0-based index" minimum:"0"`
			To   int `json:"to" doc:"Target 0-based index" minimum:"0"`
		}
	}
	type statusOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "reorder-frames", Method: http.MethodPost, Path: "/api/v1/frames/reorder", Summary: "Move a frame to another position", Tags: []string{"Frames"}},
		func(ctx context.Context, input *reorderInput) (*statusOutput, error) {
			if err := svc.ReorderFrame(input.Body.From, input.Body.To); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.Status = "reordered"
			return out, nil
		})

	type clearInput struct {
		Body struct {
			Confirm bool `json:"confirm" doc:"Must be true; clearing cannot be undone"`
		}
	}
	type clearOutput struct {
		Body struct {
			Cleared int `json:"cleared"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "clear-frames", Method: http.MethodPost, Path: "/api/v1/frames/clear", Summary: "Delete every frame", Description: "Also stops an active session and forgets the current session id.", Tags: []string{"Frames"}},
		func(ctx context.Context, input *clearInput) (*clearOutput, error) {
			n, err := svc.ClearAll(ctx, input.Body.Confirm)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &clearOutput{}
			out.Body.Cleared = n
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "copy-frame", Method: http.MethodPost, Path: "/api/v1/frames/{frame_id}/copy", Summary: "Copy one composed frame to the clipboard", Description: "When the clipboard is unavailable the image is saved as an export and downloadUrl is set.", Tags: []string{"Clipboard"}},
		func(ctx context.Context, input *frameIDInput) (*copyOutput, error) {
			res, err := svc.CopyFrame(ctx, input.FrameID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &copyOutput{Body: res}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "copy-all-frames", Method: http.MethodPost, Path: "/api/v1/frames/copy", Summary: "Copy every frame to the clipboard as HTML and text", Description: "When the clipboard is unavailable an HTML document is saved and downloadUrl is set.", Tags: []string{"Clipboard"}},
		func(ctx context.Context, input *struct{}) (*copyOutput, error) {
			res, err := svc.CopyAllFrames(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &copyOutput{Body: res}, nil
		})
}
