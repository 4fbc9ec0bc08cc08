package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/scrollframe/internal/controller"
	"github.com/dgnsrekt/scrollframe/internal/license"
	"github.com/dgnsrekt/scrollframe/internal/persist"
)

func registerAccountHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type quotaOutput struct {
		Body controller.QuotaStatus
	}
	huma.Register(api, huma.Operation{OperationID: "get-quota", Method: http.MethodGet, Path: "/api/v1/quota", Summary: "Daily capture count and remaining free captures", Tags: []string{"Plan"}},
		func(ctx context.Context, input *struct{}) (*quotaOutput, error) {
			st, err := svc.QuotaStatus(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &quotaOutput{Body: st}, nil
		})

	type licenseOutput struct {
		Body license.Status
	}
	huma.Register(api, huma.Operation{OperationID: "get-license", Method: http.MethodGet, Path: "/api/v1/license", Summary: "Stored license and plan", Tags: []string{"Plan"}},
		func(ctx context.Context, input *struct{}) (*licenseOutput, error) {
			st, err := svc.LicenseStatus(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &licenseOutput{Body: st}, nil
		})

	type activateInput struct {
		Body struct {
			LicenseKey string `json:"license_key" doc:"Key starting with SG- or SCROLLFRAME-PRO-"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "activate-license", Method: http.MethodPost, Path: "/api/v1/license/activate", Summary: "Validate a license key and enable the paid plan", Tags: []string{"Plan"}},
		func(ctx context.Context, input *activateInput) (*licenseOutput, error) {
			st, err := svc.ActivateLicense(ctx, input.Body.LicenseKey)
			if err != nil {
				return nil, mapErr(err)
			}
			return &licenseOutput{Body: st}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "clear-license", Method: http.MethodDelete, Path: "/api/v1/license", Summary: "Remove the license and return to the free plan", Tags: []string{"Plan"}},
		func(ctx context.Context, input *struct{}) (*licenseOutput, error) {
			st, err := svc.ClearLicense(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &licenseOutput{Body: st}, nil
		})

	type storageOutput struct {
		Body persist.Status
	}
	huma.Register(api, huma.Operation{OperationID: "get-storage-status", Method: http.MethodGet, Path: "/api/v1/storage", Summary: "Whether the frame list has been saved", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*storageOutput, error) {
			return &storageOutput{Body: svc.StorageStatus()}, nil
		})
}
