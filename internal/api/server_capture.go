package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/scrollframe/internal/controller"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

func registerCaptureHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "begin-selection", Method: http.MethodPost, Path: "/api/v1/selection/begin", Summary: "Open the region selector on the attached page", Tags: []string{"Selection"}},
		func(ctx context.Context, input *struct{}) (*regionOutput, error) {
			r, err := svc.BeginSelection(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &regionOutput{Body: r}, nil
		})

	type moveInput struct {
		Body struct {
			DX float64 `json:"dx" doc:"Horizontal drag distance in CSS pixels"`
			DY float64 `json:"dy" doc:"Vertical drag distance in CSS pixels"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "move-selection", Method: http.MethodPost, Path: "/api/v1/selection/move", Summary: "Drag the selection rectangle", Tags: []string{"Selection"}},
		func(ctx context.Context, input *moveInput) (*regionOutput, error) {
			r, err := svc.MoveSelection(ctx, input.Body.DX, input.Body.DY)
			if err != nil {
				return nil, mapErr(err)
			}
			return &regionOutput{Body: r}, nil
		})

	type resizeInput struct {
		Body struct {
			Handle string  `json:"handle" doc:"Corner handle" enum:"nw,ne,sw,se"`
			DX     float64 `json:"dx"`
			DY     float64 `json:"dy"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "resize-selection", Method: http.MethodPost, Path: "/api/v1/selection/resize", Summary: "Resize the selection by one corner handle", Tags: []string{"Selection"}},
		func(ctx context.Context, input *resizeInput) (*regionOutput, error) {
			r, err := svc.ResizeSelection(ctx, input.Body.Handle, input.Body.DX, input.Body.DY)
			if err != nil {
				return nil, mapErr(err)
			}
			return &regionOutput{Body: r}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "confirm-selection", Method: http.MethodPost, Path: "/api/v1/selection/confirm", Summary: "Confirm the region and start capturing", Description: "Starts a new capture session and takes the first frame immediately.", Tags: []string{"Selection"}},
		func(ctx context.Context, input *struct{}) (*stateOutput, error) {
			st, err := svc.ConfirmSelection(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &stateOutput{Body: st}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "cancel-selection", Method: http.MethodPost, Path: "/api/v1/selection/cancel", Summary: "Close the region selector without capturing", Tags: []string{"Selection"}},
		func(ctx context.Context, input *struct{}) (*stateOutput, error) {
			st, err := svc.CancelSelection(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &stateOutput{Body: st}, nil
		})

	capture := []struct {
		name    string
		summary string
		fn      func(context.Context) (types.CaptureState, error)
	}{
		{"pause", "Pause capturing; scroll events are ignored", svc.Pause},
		{"resume", "Resume capturing from the current scroll position", svc.Resume},
		{"stop", "Stop the capture session and keep its frames", svc.Stop},
	}
	for _, op := range capture {
		huma.Register(api, huma.Operation{OperationID: op.name + "-capture", Method: http.MethodPost, Path: "/api/v1/capture/" + op.name, Summary: op.summary, Tags: []string{"Capture"}},
			func(ctx context.Context, input *struct{}) (*stateOutput, error) {
				st, err := op.fn(ctx)
				if err != nil {
					return nil, mapErr(err)
				}
				return &stateOutput{Body: st}, nil
			})
	}

	type statusOutput struct {
		Body controller.CaptureStatus
	}
	huma.Register(api, huma.Operation{OperationID: "get-capture-state", Method: http.MethodGet, Path: "/api/v1/capture/state", Summary: "Current capture state, selection and attached page", Tags: []string{"Capture"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			return &statusOutput{Body: svc.CaptureState()}, nil
		})

	type pagesOutput struct {
		Body struct {
			Pages []types.PageTarget `json:"pages"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-pages", Method: http.MethodGet, Path: "/api/v1/pages", Summary: "List browser tabs the driver can attach to", Tags: []string{"Pages"}},
		func(ctx context.Context, input *struct{}) (*pagesOutput, error) {
			pages, err := svc.ListPages(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &pagesOutput{}
			out.Body.Pages = pages
			if out.Body.Pages == nil {
				out.Body.Pages = []types.PageTarget{}
			}
			return out, nil
		})

	type attachInput struct {
		TargetID string `path:"target_id"`
	}
	type attachOutput struct {
		Body types.PageTarget
	}
	huma.Register(api, huma.Operation{OperationID: "attach-page", Method: http.MethodPost, Path: "/api/v1/pages/{target_id}/attach", Summary: "Attach the driver to another tab", Tags: []string{"Pages"}},
		func(ctx context.Context, input *attachInput) (*attachOutput, error) {
			p, err := svc.AttachPage(ctx, input.TargetID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &attachOutput{Body: p}, nil
		})
}
