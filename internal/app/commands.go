package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dshills/buildninja/internal/config"
	"github.com/dshills/buildninja/internal/config/watcher"
	"github.com/dshills/buildninja/internal/integration/process"
	"github.com/dshills/buildninja/internal/integration/task"
)

// EnvPrefix prefixes the environment variables that override flags, for
// example BUILDNINJA_NINJA_COMMAND or BUILDNINJA_PROJECT.
const EnvPrefix = "BUILDNINJA"

// Dependencies are the injection points of the command tree. Zero values
// select the production defaults.
type Dependencies struct {
	// UserConfigDir overrides the user config directory.
	UserConfigDir string

	// Runner answers target queries in place of the process supervisor.
	Runner task.Runner
}

// cli resolves the global flags through viper so that each flag can also be
// given as an environment variable.
type cli struct {
	v    *viper.Viper
	deps Dependencies
}

func (c *cli) options(cmd *cobra.Command, watch bool) Options {
	opts := Options{
		ProjectDir:    c.v.GetString("project"),
		ConfigPath:    c.v.GetString("config"),
		UserConfigDir: c.deps.UserConfigDir,
		NinjaCommand:  c.v.GetString(config.KeyNinjaCommand),
		Verbose:       c.v.GetBool("verbose"),
		GracePeriod:   c.v.GetDuration("grace-period"),
		Watch:         watch,
		Debounce:      c.v.GetDuration("debounce"),
		Runner:        c.deps.Runner,
		Stdout:        cmd.OutOrStdout(),
		Stderr:        cmd.ErrOrStderr(),
	}
	if c.v.IsSet(config.KeyNinjaSubdirs) {
		opts.Subdirs = c.subdirs(cmd)
	}
	return opts
}

// subdirs returns the --subdir values, or the BUILDNINJA_NINJA_SUBDIRS
// entries when the flag was not given. The variable is a list separated
// like PATH so that directories may contain spaces.
func (c *cli) subdirs(cmd *cobra.Command) []string {
	if f := cmd.Flags().Lookup("subdir"); f != nil && f.Changed {
		if dirs := c.v.GetStringSlice(config.KeyNinjaSubdirs); dirs != nil {
			return dirs
		}
		return []string{}
	}

	dirs := []string{}
	for _, dir := range filepath.SplitList(c.v.GetString(config.KeyNinjaSubdirs)) {
		if dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// open creates an Application for cmd. Callers must call Shutdown.
func (c *cli) open(cmd *cobra.Command, watch bool) (*Application, error) {
	return New(cmd.Context(), c.options(cmd, watch))
}

// NewRootCommand creates the buildninja command tree.
func NewRootCommand(deps Dependencies) *cobra.Command {
	return newCLI(deps).rootCommand()
}

func newCLI(deps Dependencies) *cli {
	c := &cli{v: viper.New(), deps: deps}
	c.v.SetEnvPrefix(EnvPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	c.v.AutomaticEnv()
	return c
}

func (c *cli) rootCommand() *cobra.Command {
	s := newStyles(os.Stdout)
	root := &cobra.Command{
		Use:   "buildninja",
		Short: "Discover ninja targets and run them",
		Long: s.Title.Render("buildninja") + s.Muted.Render(" - ninja targets as run configurations") + `

buildninja looks for build.ninja in the configured build directories of a
project, asks ninja for the targets of each directory and turns every
target into a run configuration.

Settings are read from ~/.config/buildninja/settings.toml and from
.buildninja.toml (or .buildninja.json) in the project root. Flags and
BUILDNINJA_* environment variables override both. BUILDNINJA_NINJA_SUBDIRS
separates directories like PATH does.

` + s.Muted.Render("Examples:") + `
  buildninja targets                    List targets of src/out/Debug
  buildninja --subdir out/Release targets
  buildninja run chrome                 Build the chrome target
  buildninja config set ninja.subdirs out/Debug out/Release`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringP("project", "C", "", "project root (default is the working directory)")
	pf.String("config", "", "workspace config file (default is <project>/.buildninja.toml)")
	pf.String("ninja-command", "", "ninja executable, overrides "+config.KeyNinjaCommand)
	pf.StringSlice("subdir", nil, "candidate build directory relative to the project, repeatable; overrides "+config.KeyNinjaSubdirs)
	pf.BoolP("verbose", "v", false, "enable debug logging")
	pf.Duration("grace-period", process.DefaultGracePeriod, "how long an interrupted ninja may take to exit before it is killed")

	_ = c.v.BindPFlag("project", pf.Lookup("project"))
	_ = c.v.BindPFlag("config", pf.Lookup("config"))
	_ = c.v.BindPFlag(config.KeyNinjaCommand, pf.Lookup("ninja-command"))
	_ = c.v.BindPFlag(config.KeyNinjaSubdirs, pf.Lookup("subdir"))
	_ = c.v.BindPFlag("verbose", pf.Lookup("verbose"))
	_ = c.v.BindPFlag("grace-period", pf.Lookup("grace-period"))

	root.AddCommand(
		newTargetsCommand(c),
		newRunCommand(c),
		newWatchCommand(c),
		newConfigCommand(c),
	)

	return root
}

func notEligible(app *Application) error {
	return &ExitError{
		Code: ExitNotEligible,
		Err: fmt.Errorf("%w under %s (checked: %s)", ErrNoBuildDir, app.Root(),
			strings.Join(app.Config().Subdirs(), ", ")),
	}
}

func newTargetsCommand(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List the run configurations of every ninja target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd, false)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			result, err := app.Discover(cmd.Context())
			if err != nil {
				return err
			}
			if !result.Eligible() {
				return notEligible(app)
			}

			if asJSON {
				return writeTargetsJSON(cmd.OutOrStdout(), result.Tasks)
			}
			writeTargets(cmd.OutOrStdout(), app.Root(), result.Tasks)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print run configurations as JSON")
	return cmd
}

func newRunCommand(c *cli) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "run <target>",
		Short: "Run the ninja target with the given name",
		Long: `Run the ninja target with the given name.

The name is the target as listed by 'buildninja targets'. When more than
one build directory is configured it carries the directory prefix, for
example "out/Debug: chrome". With --quiet the build output is held back
and only its last lines are printed if the build fails.`,
		Args: cobra.ExactArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			return c.completeTargets(cmd), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd, false)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			return runTarget(cmd.Context(), app, args[0], quiet)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print output when the build fails")
	return cmd
}

func (c *cli) completeTargets(cmd *cobra.Command) []string {
	app, err := c.open(cmd, false)
	if err != nil {
		return nil
	}
	defer app.Shutdown()

	result, err := app.Discover(cmd.Context())
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(result.Tasks))
	for _, t := range result.Tasks {
		names = append(names, t.Args[0])
	}
	return names
}

// quietTailLines is how much output a failed quiet run prints.
const quietTailLines = 20

func runTarget(ctx context.Context, app *Application, name string, quiet bool) error {
	result, err := app.Discover(ctx)
	if err != nil {
		return err
	}
	if !result.Eligible() {
		return notEligible(app)
	}

	t, ok := result.Find(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, name)
	}

	app.Logger().Info("running", "target", t.Name, "cwd", t.Cwd)

	var listener task.ExecutionListener
	if !quiet {
		listener = &streamListener{stdout: app.opts.Stdout, stderr: app.opts.Stderr}
	}
	exec, err := app.Execute(ctx, t, listener)
	if err != nil {
		return err
	}
	if quiet && exec.State() != task.ExecutionStateSucceeded {
		writeOutputTail(app.opts.Stderr, exec.Output().Tail(quietTailLines))
	}

	writeProblems(app.opts.Stderr, exec.Problems())

	switch exec.State() {
	case task.ExecutionStateSucceeded:
		app.Logger().Info("finished", "target", t.Name, "duration", exec.Duration())
		return nil
	case task.ExecutionStateFailed:
		if task.IsExitError(exec.Err()) {
			return &ExitError{
				Code: exec.ExitCode(),
				Err:  fmt.Errorf("%s failed with exit code %d", t.Name, exec.ExitCode()),
			}
		}
		return exec.Err()
	default:
		return exec.Err()
	}
}

func newWatchCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "List targets and list them again whenever the settings change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd, true)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			return watchTargets(cmd.Context(), app)
		},
	}

	cmd.Flags().Duration("debounce", watcher.DefaultDebounce, "how long a settings file must stay quiet after a write before it is reloaded")
	_ = c.v.BindPFlag("debounce", cmd.Flags().Lookup("debounce"))
	return cmd
}

func watchTargets(ctx context.Context, app *Application) error {
	out := app.opts.Stdout
	s := newStyles(app.opts.Stderr)

	// Changes arriving while a cycle runs collapse into one more cycle.
	refresh := make(chan struct{}, 1)
	cancel := app.OnRefresh(func() {
		select {
		case refresh <- struct{}{}:
		default:
		}
	})
	defer cancel()

	cycle := func() error {
		result, err := app.Discover(ctx)
		if err != nil {
			return err
		}
		if !result.Eligible() {
			fmt.Fprintf(app.opts.Stderr, "%s %v\n", s.Warning.Render("!"), notEligible(app))
			return nil
		}
		writeTargets(out, app.Root(), result.Tasks)
		return nil
	}

	if err := cycle(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	fmt.Fprintf(app.opts.Stderr, "\n%s Watching %s for changes (Ctrl+C to stop)...\n",
		s.Target.Render("→"), app.Config().WorkspaceFile())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh:
			app.Logger().Info("settings changed, refreshing targets")
			if err := cycle(); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func newConfigCommand(c *cli) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change buildninja settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var asJSON bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective settings and where they come from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd, false)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			if asJSON {
				return writeConfigJSON(cmd.OutOrStdout(), app.Config().Merged())
			}
			writeConfig(cmd.OutOrStdout(), app.Config())
			return nil
		},
	}
	showCmd.Flags().BoolVar(&asJSON, "json", false, "print the merged settings as JSON")
	cfgCmd.AddCommand(showCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>...",
		Short: "Write a setting to the workspace config file",
		Long: `Write a setting to the workspace config file.

List settings such as ninja.subdirs take every remaining argument:

  buildninja config set ninja.subdirs out/Debug out/Release`,
		Args: cobra.MinimumNArgs(2),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveDefault
			}
			return config.Keys(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := config.ParseValue(args[0], args[1:])
			if err != nil {
				if errors.Is(err, config.ErrUnknownSetting) {
					return fmt.Errorf("%w (known: %s)", err, strings.Join(config.Keys(), ", "))
				}
				return err
			}

			app, err := c.open(cmd, false)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			if err := app.Config().Save(args[0], value); err != nil {
				return err
			}

			s := newStyles(cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s in %s\n", s.Success.Render("✓"),
				args[0], formatValue(value), app.Config().WorkspaceFile())
			return nil
		},
	})

	return cfgCmd
}
