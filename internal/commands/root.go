// Package commands implements the hostweave command line.
package commands

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables that override flags.
const EnvPrefix = "HOSTWEAVE"

const (
	keyFile            = "file"
	keyDashboardAddr   = "dashboard-addr"
	keyStartTimeout    = "start-timeout"
	keyShutdownTimeout = "shutdown-timeout"
)

// NewRootCommand builds the hostweave command tree. Flags are bound through
// a private viper instance so HOSTWEAVE_FILE and friends override defaults.
func NewRootCommand(version string) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "hostweave",
		Short: "Run an application host declared in apphost.yaml",
		Long: `hostweave starts the resources declared in an app-host file: external
services, an optional reverse-proxy ingress and the endpoints between them.

"run" starts everything locally and serves a dashboard. "publish" evaluates
the declaration in publish mode and lists each resource and whether it would
be published, without starting anything.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP(keyFile, "f", "apphost.yaml", "app-host file")
	_ = v.BindPFlag(keyFile, root.PersistentFlags().Lookup(keyFile))

	root.AddCommand(newRunCommand(v), newPublishCommand(v))
	root.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "%s" .Version}}
`)
	return root
}

func durationOr(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	if d := v.GetDuration(key); d > 0 {
		return d
	}
	return fallback
}
