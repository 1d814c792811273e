package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hostweave/internal/api"
	"hostweave/internal/apphost"
	"hostweave/internal/config"
)

func newPublishCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Apply the declaration in publish mode without starting anything",
		Long: `publish evaluates the app-host file in publish mode: run-only
declarations are skipped, in-process hosts are not started and no port is
allocated. It prints each resource and whether it would be published.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return publish(cmd.Context(), cmd.OutOrStdout(), v)
		},
	}
}

func publish(ctx context.Context, out io.Writer, v *viper.Viper) error {
	f, err := config.Load(v.GetString(keyFile))
	if err != nil {
		return err
	}
	opts := f.BuilderOptions(api.ModePublish)
	opts.LogOutput = io.Discard
	b := apphost.NewBuilder(opts)
	if err := f.Apply(b); err != nil {
		return fmt.Errorf("declare resources: %w", err)
	}
	app, err := b.Build()
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if err := app.Start(ctx); err != nil {
		_ = app.Stop(ctx)
		return fmt.Errorf("evaluate lifecycle: %w", err)
	}
	if err := app.Stop(ctx); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tENDPOINTS\tPUBLISHED")
	for _, r := range app.Model().Resources() {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\n", r.Name(), r.Kind(), len(r.Endpoints()), !r.ExcludedFromManifest())
	}
	return tw.Flush()
}
