package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/scrollframe/internal/api"
	"github.com/dgnsrekt/scrollframe/internal/browser"
	"github.com/dgnsrekt/scrollframe/internal/cdp"
	"github.com/dgnsrekt/scrollframe/internal/cdpcontrol"
	"github.com/dgnsrekt/scrollframe/internal/config"
	"github.com/dgnsrekt/scrollframe/internal/controller"
	"github.com/dgnsrekt/scrollframe/internal/events"
	"github.com/dgnsrekt/scrollframe/internal/export"
	"github.com/dgnsrekt/scrollframe/internal/framestore"
	"github.com/dgnsrekt/scrollframe/internal/journal"
	"github.com/dgnsrekt/scrollframe/internal/license"
	"github.com/dgnsrekt/scrollframe/internal/netutil"
	"github.com/dgnsrekt/scrollframe/internal/notify"
	"github.com/dgnsrekt/scrollframe/internal/persist"
	"github.com/dgnsrekt/scrollframe/internal/quota"
	"github.com/dgnsrekt/scrollframe/internal/session"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Attach to the browser and serve the capture API",
		Long: `serve connects to Chromium over CDP (launching it first when
SCROLLFRAME_LAUNCH_BROWSER is set), restores saved frames, and serves the
capture API, its docs at /docs, and the live event stream.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("bind", "", "Override SCROLLFRAME_BIND_ADDR")
	cmd.Flags().String("driver", "", "Override SCROLLFRAME_DRIVER (raw or chromedp)")
	return cmd
}

func newDriver(cfg *config.Config) controller.Driver {
	timeout := time.Duration(cfg.EvalTimeoutMS) * time.Millisecond
	if cfg.Driver == config.DriverChromedp {
		return cdp.NewClient(cfg.CDPURL(), cfg.TabURLFilter, timeout)
	}
	return cdpcontrol.NewClient(cfg.CDPURL(), cfg.TabURLFilter, timeout)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd, os.Stdout)
	if err != nil {
		return err
	}
	cfg := a.cfg
	if bind, _ := cmd.Flags().GetString("bind"); bind != "" {
		cfg.BindAddr = bind
	}
	if drv, _ := cmd.Flags().GetString("driver"); drv != "" {
		if drv != config.DriverRaw && drv != config.DriverChromedp {
			return fmt.Errorf("--driver must be %q or %q", config.DriverRaw, config.DriverChromedp)
		}
		cfg.Driver = drv
	}
	sessCfg, err := cfg.SessionConfig(a.profile)
	if err != nil {
		return err
	}

	slog.Info("scrollframe config loaded",
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.CDPURL(),
		"driver", cfg.Driver,
		"tab_url_filter", cfg.TabURLFilter,
		"eval_timeout_ms", cfg.EvalTimeoutMS,
		"threshold", sessCfg.Threshold,
		"threshold_scope", sessCfg.Scope,
		"overlap", sessCfg.Overlap,
		"db_path", cfg.DBPath,
		"export_dir", cfg.ExportDir,
		"journal_dir", cfg.JournalDir,
		"log_level", cfg.LogLevel,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.StartURL,
			ProfileDir: cfg.BrowserProfileDir,
		})
		if err := launcher.Launch(ctx); err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		defer launcher.Stop()
	}

	driver := newDriver(cfg)
	if err := driver.Connect(ctx); err != nil {
		return fmt.Errorf("connect CDP at %s: %w", cfg.CDPURL(), err)
	}
	defer func() {
		if err := driver.Close(); err != nil {
			slog.Debug("CDP client close failed", "error", err)
		}
	}()

	kv, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := kv.Close(); err != nil {
			slog.Warn("store close failed", "error", err)
		}
	}()

	mirror := persist.NewFramesMirror(kv, persist.WithRetry(3, 250*time.Millisecond), persist.WithTimeout(5*time.Second))
	defer func() {
		if err := mirror.Close(); err != nil {
			slog.Error("frames were not saved before exit", "error", err)
		}
	}()
	frames := framestore.New(mirror)

	exports, err := export.NewStore(cfg.ExportDir)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	oracle := license.NewOracle(kv, license.NewValidator(httpClient, cfg.LicenseURL), nil)
	tracker := quota.NewTracker(kv, nil)

	broker := events.NewBroker()
	presenter := events.NewPresenter(broker)

	jw := journal.NewWriter(cfg.JournalDir, "capture", 0, 0)
	defer func() {
		if err := jw.Close(); err != nil {
			slog.Warn("journal close failed", "error", err)
		}
	}()
	recorder := journal.NewRecorder(jw)

	observers := []session.Observer{presenter, recorder}
	if cfg.NtfyURL != "" {
		notifier := notify.NewNotifier(httpClient, cfg.NtfyURL)
		defer notifier.Close()
		observers = append(observers, notifier)
	}
	defer frames.Subscribe(presenter.FramesChanged)()
	defer frames.Subscribe(recorder.FramesChanged)()

	svc := controller.NewService(controller.Deps{
		Driver:   driver,
		Frames:   frames,
		Quota:    tracker,
		License:  oracle,
		Exports:  exports,
		KV:       kv,
		Mirror:   mirror,
		Observer: session.Observers(observers...),
		Style:    a.profile.Style(),
	}, sessCfg)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("restore capture state: %w", err)
	}
	publishQuota := func(st controller.QuotaStatus) {
		presenter.QuotaChanged(events.QuotaStatusPayload{
			Plan:            st.Plan,
			DailyFrameCount: st.DailyCount,
			Limit:           st.Limit,
			Remaining:       st.Remaining,
			ResetAt:         st.ResetAt,
		})
	}
	defer svc.WatchQuota(publishQuota)()
	if st, err := svc.QuotaStatus(ctx); err == nil {
		publishQuota(st)
	}

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		return fmt.Errorf("select bind address %s: %w", cfg.BindAddr, err)
	}

	srv := &http.Server{
		Addr:              bindAddr,
		Handler:           api.NewServer(svc, broker),
		ReadHeaderTimeout: 10 * time.Second,
		// Event streams end when the daemon is signalled.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("scrollframe listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc.Shutdown(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("scrollframe shutdown failed", "error", err)
		}
		if err := mirror.Flush(shutdownCtx); err != nil {
			slog.Warn("final frame save failed", "error", err)
		}
		return nil
	})
	return g.Wait()
}
