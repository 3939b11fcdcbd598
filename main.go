package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kronix/internal/kronix"
)

type globalOptions struct {
	configPath string
	logPath    string
	debug      bool

	cfg *kronix.Config
	obs *kronix.ConsoleObserver
}

func main() {
	g := &globalOptions{}

	rootCommand := &cobra.Command{
		Use:           "kronix",
		Short:         "freestanding cross-toolchain builder",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCommand.PersistentFlags().StringVar(&g.configPath, "config", kronix.ConfigFile, "`path` to the configuration file")
	rootCommand.PersistentFlags().StringVar(&g.logPath, "log", "", "tee progress output to `file`")
	rootCommand.PersistentFlags().BoolVar(&g.debug, "debug", false, "show debugging output")

	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		kronix.Debug = g.debug
		cfg, err := kronix.LoadConfig(g.configPath)
		if err != nil {
			return err
		}
		g.cfg = cfg
		obs, err := kronix.NewConsoleObserver(g.logPath)
		if err != nil {
			return err
		}
		g.obs = obs
		return nil
	}

	rootCommand.AddCommand(
		newBuildCommand(g),
		newManifestCommand(g),
		newLogsCommand(g),
		newVersionCommand(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if g.obs != nil {
		g.obs.Close()
	}
	if err != nil {
		// Aborted runs already reported the failing step.
		if !errors.Is(err, kronix.ErrAborted) {
			fmt.Fprintf(os.Stderr, "kronix: %v\n", err)
		}
		os.Exit(1)
	}
}

func newBuildCommand(g *globalOptions) *cobra.Command {
	c := &cobra.Command{
		Use:           "build",
		Short:         "build the cross toolchain",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	opts := kronix.BuildOptions{}
	c.Flags().StringVarP(&opts.Root, "dir", "d", "toolchain", "toolchain root `dir`ectory")
	c.Flags().StringVarP(&opts.Arch, "arch", "a", "x86_64", "target `arch`itecture")
	c.Flags().StringVarP(&opts.Packages, "packages", "p", "all", "comma-separated `components` to build")
	c.Flags().StringVar(&opts.TargetArch, "with-target-arch", "native", "-march `value` for target libraries")
	c.Flags().StringVar(&opts.TargetTune, "with-target-tune", "native", "-mtune `value` for target libraries")
	c.Flags().IntVarP(&opts.Jobs, "jobs", "j", 0, "parallel `jobs` (default CPUs+1)")
	c.Flags().BoolVarP(&opts.AssumeYes, "yes", "y", false, "continue past failed steps without prompting")
	c.Flags().BoolVar(&opts.SkipVerify, "skip-verify", false, "skip archive signature verification")
	c.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "keep command output off the console")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runBuild(cmd.Context(), g, opts)
	}
	return c
}

func runBuild(ctx context.Context, g *globalOptions, opts kronix.BuildOptions) error {
	g.obs.Quiet = opts.Quiet
	b, err := kronix.NewBuilder(ctx, g.cfg, g.obs, opts)
	if err != nil {
		return err
	}
	defer b.Close()
	return b.Run(ctx)
}

func newManifestCommand(g *globalOptions) *cobra.Command {
	c := &cobra.Command{
		Use:           "manifest [KEY]",
		Short:         "list recorded install paths",
		Long:          "Without a key, list every recorded step key. With a key like gcc:install:1, list the paths that step installed.",
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root := c.Flags().StringP("dir", "d", "toolchain", "toolchain root `dir`ectory")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		layout, err := kronix.NewLayout(*root)
		if err != nil {
			return err
		}
		store, err := kronix.OpenStore(layout.StorePath())
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 0 {
			keys, err := store.Keys()
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		}
		paths, err := store.Get(args[0])
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return fmt.Errorf("no manifest entry for %q", args[0])
		}
		for _, p := range paths {
			fmt.Println(p)
		}
		return nil
	}
	return c
}

func newLogsCommand(g *globalOptions) *cobra.Command {
	c := &cobra.Command{
		Use:           "logs COMPONENT [ACTION]",
		Short:         "show a step's command log",
		Long:          "Show the captured output of a component's configure, build or install step. ACTION defaults to build; multi-part installs use install-1, install-2 and so on.",
		Args:          cobra.RangeArgs(1, 2),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root := c.Flags().StringP("dir", "d", "toolchain", "toolchain root `dir`ectory")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		comp, err := kronix.ParseComponent(args[0])
		if err != nil {
			return err
		}
		if comp == kronix.All {
			return fmt.Errorf("logs are per component, not %q", args[0])
		}
		action := "build"
		if len(args) == 2 {
			action = args[1]
		}
		layout, err := kronix.NewLayout(*root)
		if err != nil {
			return err
		}
		name := comp.String() + "-" + action
		return kronix.ShowLog(name, layout.StepLog(name))
	}
	return c
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("kronix " + kronix.Version())
		},
	}
}
