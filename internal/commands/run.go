package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hostweave/internal/api"
	"hostweave/internal/apphost"
	"hostweave/internal/config"
	"hostweave/internal/dashboard"
)

func newRunCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start every resource and serve until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runApp(ctx, v)
		},
	}
	cmd.Flags().String(keyDashboardAddr, "127.0.0.1:18888", "dashboard listen address (empty disables)")
	cmd.Flags().Duration(keyStartTimeout, 30*time.Second, "time allowed for every resource to report Running")
	cmd.Flags().Duration(keyShutdownTimeout, 10*time.Second, "time allowed for disposal")
	for _, key := range []string{keyDashboardAddr, keyStartTimeout, keyShutdownTimeout} {
		_ = v.BindPFlag(key, cmd.Flags().Lookup(key))
	}
	return cmd
}

// runApp starts the application declared in the configured file and blocks
// until ctx is done.
func runApp(ctx context.Context, v *viper.Viper) error {
	f, err := config.Load(v.GetString(keyFile))
	if err != nil {
		return err
	}
	b := apphost.NewBuilder(f.BuilderOptions(api.ModeRun))
	if err := f.Apply(b); err != nil {
		return fmt.Errorf("declare resources: %w", err)
	}
	app, err := b.Build()
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	shutdownTimeout := durationOr(v, keyShutdownTimeout, 10*time.Second)
	stopApp := func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Stop(sctx); err != nil {
			log.Printf("WARN: shutdown: %v", err)
		}
	}

	if err := app.Start(ctx); err != nil {
		stopApp()
		return fmt.Errorf("start application: %w", err)
	}
	defer stopApp()

	if addr := v.GetString(keyDashboardAddr); addr != "" {
		dash, err := dashboard.New(app, nil)
		if err != nil {
			return err
		}
		if err := dash.Start(addr); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := dash.Stop(sctx); err != nil {
				log.Printf("WARN: dashboard shutdown: %v", err)
			}
		}()
	}

	wctx, cancel := context.WithTimeout(ctx, durationOr(v, keyStartTimeout, 30*time.Second))
	err = app.WaitForAll(wctx)
	cancel()
	if err != nil {
		return fmt.Errorf("wait for resources: %w", err)
	}
	logURLs(app)

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Printf("WARN: Failed to notify systemd of readiness: %v", err)
	} else if sent {
		log.Printf("INFO: Notified systemd that service is ready")
	}

	<-ctx.Done()
	log.Printf("INFO: shutdown requested")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	return nil
}

func logURLs(app *apphost.Application) {
	for _, name := range app.Observed() {
		snap, ok := app.Notifier().Snapshot(name)
		if !ok {
			continue
		}
		for _, u := range snap.URLs {
			log.Printf("INFO: %s (%s) %s: %s", name, snap.ResourceType, u.Name, u.URL)
		}
	}
}
