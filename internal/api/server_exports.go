package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/scrollframe/internal/export"
)

type exportIDInput struct {
	ExportID string `path:"export_id"`
}

type exportOutput struct {
	Body export.Meta
}

func registerExportHandlers(api huma.API, svc Service) {
	type createInput struct {
		Body struct {
			Format  string `json:"format,omitempty" doc:"Output format" enum:"png,html,md,markdown,pdf" default:"png"`
			FrameID string `json:"frame_id,omitempty" doc:"Export one frame; empty exports all frames"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "create-export", Method: http.MethodPost, Path: "/api/v1/exports", Summary: "Render frames to a downloadable document", Tags: []string{"Exports"}},
		func(ctx context.Context, input *createInput) (*exportOutput, error) {
			meta, err := svc.Export(ctx, input.Body.Format, input.Body.FrameID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &exportOutput{Body: meta}, nil
		})

	type listOutput struct {
		Body struct {
			Exports []export.Meta `json:"exports"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-exports", Method: http.MethodGet, Path: "/api/v1/exports", Summary: "List exports, newest first", Tags: []string{"Exports"}},
		func(ctx context.Context, input *struct{}) (*listOutput, error) {
			metas, err := svc.ListExports()
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listOutput{}
			out.Body.Exports = metas
			if out.Body.Exports == nil {
				out.Body.Exports = []export.Meta{}
			}
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-export", Method: http.MethodGet, Path: "/api/v1/exports/{export_id}", Summary: "Get export metadata", Tags: []string{"Exports"}},
		func(ctx context.Context, input *exportIDInput) (*exportOutput, error) {
			meta, err := svc.GetExport(input.ExportID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &exportOutput{Body: meta}, nil
		})

	type fileOutput struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}
	huma.Register(api, huma.Operation{
		OperationID: "download-export",
		Method:      http.MethodGet,
		Path:        "/api/v1/exports/{export_id}/file",
		Summary:     "Download an export document",
		Tags:        []string{"Exports"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Export document",
				Content: map[string]*huma.MediaType{
					"image/png":       {Schema: &huma.Schema{Type: "string", Format: "binary"}},
					"text/html":       {Schema: &huma.Schema{Type: "string"}},
					"text/markdown":   {Schema: &huma.Schema{Type: "string"}},
					"application/pdf": {Schema: &huma.Schema{Type: "string", Format: "binary"}},
				},
			},
		},
	}, func(ctx context.Context, input *exportIDInput) (*fileOutput, error) {
		data, meta, err := svc.ReadExport(input.ExportID)
		if err != nil {
			return nil, mapErr(err)
		}
		return &fileOutput{
			ContentType:        export.ContentType(meta.Format),
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", meta.FileName()),
			Body:               data,
		}, nil
	})

	huma.Register(api, huma.Operation{OperationID: "delete-export", Method: http.MethodDelete, Path: "/api/v1/exports/{export_id}", Summary: "Delete an export", Tags: []string{"Exports"}},
		func(ctx context.Context, input *exportIDInput) (*struct{}, error) {
			if err := svc.DeleteExport(input.ExportID); err != nil {
				return nil, mapErr(err)
			}
			return nil, nil
		})
}
