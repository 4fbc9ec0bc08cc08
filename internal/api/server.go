package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/scrollframe/internal/controller"
	"github.com/dgnsrekt/scrollframe/internal/events"
	"github.com/dgnsrekt/scrollframe/internal/export"
	"github.com/dgnsrekt/scrollframe/internal/license"
	"github.com/dgnsrekt/scrollframe/internal/persist"
	"github.com/dgnsrekt/scrollframe/internal/types"
)

type Service interface {
	BeginSelection(ctx context.Context) (types.Region, error)
	MoveSelection(ctx context.Context, dx, dy float64) (types.Region, error)
	ResizeSelection(ctx context.Context, handle string, dx, dy float64) (types.Region, error)
	ConfirmSelection(ctx context.Context) (types.CaptureState, error)
	CancelSelection(ctx context.Context) (types.CaptureState, error)
	Pause(ctx context.Context) (types.CaptureState, error)
	Resume(ctx context.Context) (types.CaptureState, error)
	Stop(ctx context.Context) (types.CaptureState, error)
	CaptureState() controller.CaptureStatus

	ListPages(ctx context.Context) ([]types.PageTarget, error)
	AttachPage(ctx context.Context, targetID string) (types.PageTarget, error)

	ListFrames() []types.FrameSummary
	GetFrame(id string) (types.FrameSummary, error)
	FrameImage(id string) ([]byte, error)
	DeleteFrame(id string) error
	ReorderFrame(from, to int) error
	UpdateAnnotation(id, text string) (types.FrameSummary, error)
	ClearAll(ctx context.Context, confirm bool) (int, error)
	CopyFrame(ctx context.Context, id string) (controller.CopyResult, error)
	CopyAllFrames(ctx context.Context) (controller.CopyResult, error)

	Export(ctx context.Context, format, frameID string) (export.Meta, error)
	ListExports() ([]export.Meta, error)
	GetExport(id string) (export.Meta, error)
	ReadExport(id string) ([]byte, export.Meta, error)
	DeleteExport(id string) error

	QuotaStatus(ctx context.Context) (controller.QuotaStatus, error)
	LicenseStatus(ctx context.Context) (license.Status, error)
	ActivateLicense(ctx context.Context, key string) (license.Status, error)
	ClearLicense(ctx context.Context) (license.Status, error)
	StorageStatus() persist.Status
}

type stateOutput struct {
	Body types.CaptureState
}

type regionOutput struct {
	Body types.Region
}

// NewServer builds the HTTP surface. broker may be nil, which leaves the
// event stream routes out.
func NewServer(svc Service, broker *events.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("scrollframe Capture API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/docs/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(eventsDocsHTML)); err != nil {
			slog.Debug("events docs response write failed", "error", err)
		}
	})
	if broker != nil {
		router.Get("/api/v1/events", events.SSEHandler(broker))
		router.Get("/api/v1/events/ws", events.WSHandler(broker))
	}

	registerCaptureHandlers(api, svc)
	registerFrameHandlers(api, svc)
	registerExportHandlers(api, svc)
	registerAccountHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *types.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case types.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case types.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case types.CodeInvalidState:
			return huma.Error409Conflict(coded.Message)
		case types.CodeLicenseInvalid:
			return huma.Error422UnprocessableEntity(coded.Message)
		case types.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case types.CodeCaptureFailed, types.CodeClipboardFailed, types.CodeCDPUnavailable:
			return huma.Error502BadGateway(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
