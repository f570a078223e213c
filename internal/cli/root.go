// Package cli wires configuration, storage and services into the flowerpod
// commands.
package cli

import (
	"flag"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"flowerpod/internal/config"
)

var Version = "dev"

type rootFlags struct {
	configPath string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "flowerpod",
		Short:         "FlowerPod gardening guide site",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default: ./config.yaml)")
	addKlogFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(flags),
		newMigrateCmd(flags),
		newUserCmd(flags),
		newFsckCmd(flags),
		newConfigCmd(flags),
	)
	return root
}

// Execute runs the root command and flushes logs.
func Execute() error {
	defer klog.Flush()
	return NewRootCmd().Execute()
}

func addKlogFlags(fs *pflag.FlagSet) {
	gofs := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(gofs)
	fs.AddGoFlagSet(gofs)
}

func (f *rootFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if cfg.InsecureSecrets() {
		klog.Warning("using the development fallback secret; set auth.jwt_secret and auth.session_secret")
	}
	return cfg, nil
}
