package kronix

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Layout is the on-disk shape of a toolchain root: downloaded and unpacked
// sources, per-component build trees, the shared install prefix, and the
// per-step command logs.
type Layout struct {
	Root    string
	Src     string
	Build   string
	Install string
	Log     string
}

func NewLayout(root string) (Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, err
	}
	return Layout{
		Root:    abs,
		Src:     filepath.Join(abs, "src"),
		Build:   filepath.Join(abs, "build"),
		Install: filepath.Join(abs, "install"),
		Log:     filepath.Join(abs, "log"),
	}, nil
}

func (l Layout) BuildDir(c Component) string { return filepath.Join(l.Build, c.String()) }

func (l Layout) InstallBin() string { return filepath.Join(l.Install, "bin") }

// StorePath is the attribution database recording which install step wrote
// which paths.
func (l Layout) StorePath() string { return filepath.Join(l.Root, "manifest.db") }

// StepLog is the command log a given step writes to.
func (l Layout) StepLog(name string) string { return filepath.Join(l.Log, name+".log") }

// hostTools pins the bootstrap compiler and binutils of the host. The cross
// tools land in PATH only after binutils installs, so everything before that
// must resolve to fixed host paths.
var hostTools = map[string]string{
	"CC":        "/usr/bin/gcc",
	"CXX":       "/usr/bin/g++",
	"AR":        "/usr/bin/gcc-ar",
	"NM":        "/usr/bin/gcc-nm",
	"RANLIB":    "/usr/bin/gcc-ranlib",
	"LD":        "/usr/bin/ld",
	"AS":        "/usr/bin/as",
	"OBJCOPY":   "/usr/bin/objcopy",
	"OBJDUMP":   "/usr/bin/objdump",
	"READELF":   "/usr/bin/readelf",
	"STRIP":     "/usr/bin/strip",
	"SIZE":      "/usr/bin/size",
	"STRINGS":   "/usr/bin/strings",
	"ADDR2LINE": "/usr/bin/addr2line",
}

// targetBaseFlags compile the target libraries for a freestanding kernel:
// no red zone, kernel code model, and enough metadata to audit the build.
const targetBaseFlags = "-O2 -g -mno-red-zone -mcmodel=kernel -frecord-gcc-switches"

// BuildOptions is everything the command line decides.
type BuildOptions struct {
	Root       string
	Arch       string
	Packages   string
	TargetArch string // -march for target libraries
	TargetTune string // -mtune for target libraries
	Jobs       int    // 0 means take it from configuration
	AssumeYes  bool   // continue past failed steps without prompting
	SkipVerify bool   // skip signature verification
	Quiet      bool   // keep command output off the console
}

// Builder drives a full toolchain build: prepare the root, download every
// requested component in parallel, then configure, build and install them
// sequentially in dependency order.
type Builder struct {
	Layout     Layout
	Arch       Arch
	TargetArch string
	TargetTune string
	Packages   []Component

	cfg      *Config
	obs      StepObserver
	runner   *Runner
	resolver *Resolver
	fetcher  *Fetcher
	exec     *Executor
	store    *Store
	tracker  *Tracker

	jobs      int
	makeFlags []string
	env       map[string]string
	freshRoot bool

	mu      sync.Mutex
	sources map[Component]string // unpacked source tree per component
}

func NewBuilder(ctx context.Context, cfg *Config, obs StepObserver, opts BuildOptions) (*Builder, error) {
	arch, err := ParseArch(opts.Arch)
	if err != nil {
		return nil, err
	}
	pkgs, err := ParsePackages(opts.Packages)
	if err != nil {
		return nil, err
	}
	layout, err := NewLayout(opts.Root)
	if err != nil {
		return nil, err
	}

	b := &Builder{
		Layout:     layout,
		Arch:       arch,
		TargetArch: opts.TargetArch,
		TargetTune: opts.TargetTune,
		Packages:   pkgs,
		cfg:        cfg,
		obs:        obs,
		resolver:   NewResolver(),
		sources:    make(map[Component]string),
	}

	// Freshness must be decided before the store creates the root.
	if _, err := os.Stat(layout.Root); err != nil {
		b.freshRoot = true
	}

	b.jobs = opts.Jobs
	if b.jobs <= 0 {
		b.jobs = cfg.Jobs()
	}
	load := float64(b.jobs) * 0.8
	if v := cfg.Values["LOAD"]; v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			load = f
		}
	}
	b.makeFlags = []string{
		fmt.Sprintf("--jobs=%d", b.jobs),
		fmt.Sprintf("--load-average=%.1f", load),
	}
	b.env = b.buildEnv()

	policy := PromptPolicy()
	if opts.AssumeYes {
		policy = AutoPolicy(true)
	}
	b.runner = NewRunner(obs, policy)

	b.fetcher = NewFetcher(obs)
	b.fetcher.Quiet = opts.Quiet
	if !opts.SkipVerify {
		b.fetcher.Verifier = NewDefaultVerifier(cfg.Get("KEYRING", ""))
	}
	mirror, err := MirrorFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b.fetcher.Mirror = mirror

	store, err := OpenStore(layout.StorePath())
	if err != nil {
		return nil, err
	}
	b.store = store
	b.tracker = NewTracker(store)

	b.exec = &Executor{
		LogDir:            layout.Log,
		Quiet:             opts.Quiet,
		ApplyIdlePriority: cfg.Bool("NICE_BUILD"),
	}
	return b, nil
}

// Close releases the attribution store.
func (b *Builder) Close() error {
	return b.store.Close()
}

// Run executes the whole pipeline. It returns ErrAborted when a failure
// stopped the run and ErrRecoveredFailures when the run finished but some
// steps had failed.
func (b *Builder) Run(ctx context.Context) error {
	if err := b.CheckHost(); err != nil {
		return err
	}
	b.obs.Infof("building %s toolchain under %s", b.Arch.Triplet(), b.Layout.Root)
	if err := b.Prepare(ctx); err != nil {
		return err
	}
	if !b.runner.Aborted() {
		if err := b.Download(ctx); err != nil {
			return err
		}
	}
	if !b.runner.Aborted() {
		if err := b.BuildAndInstall(ctx); err != nil {
			return err
		}
	}
	return b.finish()
}

func (b *Builder) finish() error {
	if b.runner.Aborted() {
		return ErrAborted
	}
	if n := b.runner.Recovered(); n > 0 {
		return fmt.Errorf("%d of %d steps failed: %w", n, b.runner.Count(), ErrRecoveredFailures)
	}
	b.obs.Infof("toolchain for %s ready under %s", b.Arch.Triplet(), b.Layout.Install)
	return nil
}

// CheckHost verifies the pinned bootstrap tools and make exist before any
// step runs.
func (b *Builder) CheckHost() error {
	var missing []string
	for _, path := range hostTools {
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, path)
		}
	}
	if _, err := exec.LookPath("make"); err != nil {
		missing = append(missing, "make")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing host tools: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Prepare brings the root into a buildable state. A root that does not
// exist yet is laid out fresh, and the requested set widens to every
// buildable component. An existing root keeps sources and build trees of
// components that are not being rebuilt: the install prefix is wiped, the
// requested components lose their sources and build trees, and every
// leftover build tree is reinstalled into the fresh prefix so the final
// toolchain stays complete.
func (b *Builder) Prepare(ctx context.Context) error {
	l := b.Layout
	if b.freshRoot {
		b.obs.Infof("laying out new toolchain root %s", l.Root)
		b.Packages = DefaultSet()
	}
	for _, dir := range []string{l.Src, l.Build, l.Install, l.Log} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if b.freshRoot {
		return nil
	}

	// The install prefix is rebuilt from scratch, so the recorded
	// attributions are stale too.
	keys, err := b.store.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := b.store.Delete(k); err != nil {
			return err
		}
	}
	if err := os.RemoveAll(l.Install); err != nil {
		return err
	}
	if err := os.MkdirAll(l.Install, 0o755); err != nil {
		return err
	}

	requested := make(map[Component]bool, len(b.Packages))
	for _, c := range b.Packages {
		requested[c] = true
		if err := os.RemoveAll(l.BuildDir(c)); err != nil {
			return err
		}
	}

	// Drop archives and unpacked trees of the components being rebuilt.
	entries, err := os.ReadDir(l.Src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		for _, c := range b.Packages {
			if strings.HasPrefix(e.Name(), c.String()) {
				debugf("purging %s\n", filepath.Join(l.Src, e.Name()))
				if err := os.RemoveAll(filepath.Join(l.Src, e.Name())); err != nil {
					return err
				}
				break
			}
		}
	}

	// Reinstall whatever survived under build/ into the fresh prefix.
	entries, err = os.ReadDir(l.Build)
	if err != nil {
		return err
	}
	var leftovers []Component
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		c, err := ParseComponent(e.Name())
		if err != nil || c == All || requested[c] {
			continue
		}
		leftovers = append(leftovers, c)
	}
	sortByBuildOrder(leftovers)
	for _, c := range leftovers {
		if b.runner.Aborted() {
			break
		}
		b.obs.Infof("reinstalling %s from its existing build tree", c)
		for _, st := range b.installSteps(c) {
			b.runner.Exec(ctx, st)
			if b.runner.Aborted() {
				break
			}
		}
	}
	return nil
}

// Download fetches every requested component concurrently. Each download is
// a step of its own, so one failing source does not take the others down.
func (b *Builder) Download(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.jobs)
	for _, c := range b.Packages {
		step := b.downloadStep(c)
		g.Go(func() error {
			b.runner.Exec(gctx, step)
			return nil
		})
	}
	return g.Wait()
}

// BuildAndInstall configures, builds and installs the requested components
// in dependency order.
func (b *Builder) BuildAndInstall(ctx context.Context) error {
	for _, c := range b.Packages {
		if b.runner.Aborted() {
			break
		}
		if err := os.MkdirAll(b.Layout.BuildDir(c), 0o755); err != nil {
			return err
		}
		steps := []Step{b.configureStep(c), b.buildStep(c)}
		steps = append(steps, b.installSteps(c)...)
		for _, st := range steps {
			b.runner.Exec(ctx, st)
			if b.runner.Aborted() {
				break
			}
		}
	}
	return nil
}

func (b *Builder) downloadStep(c Component) Step {
	return Step{
		Component: c,
		Action:    ActionDownload,
		Run: func(ctx context.Context) error {
			mirror := b.cfg.GNUMirror()
			version := b.cfg.Get("VERSION_"+strings.ToUpper(c.String()), "")
			if version == "" {
				listing, err := c.ListingURL(mirror)
				if err != nil {
					return err
				}
				version, err = b.resolver.Latest(ctx, c, listing)
				if err != nil {
					return err
				}
			}
			d, err := c.ResolveDescriptor(version, mirror)
			if err != nil {
				return err
			}
			b.obs.Infof("resolved %s %s", c, version)
			dest, err := b.fetcher.Fetch(ctx, d, b.Layout.Src)
			if err != nil {
				return err
			}
			b.mu.Lock()
			b.sources[c] = dest
			b.mu.Unlock()
			return nil
		},
	}
}

func (b *Builder) configureStep(c Component) Step {
	buildDir := b.Layout.BuildDir(c)
	return Step{
		Component: c,
		Action:    ActionConfigure,
		Dir:       buildDir,
		Env:       b.env,
		Run: func(ctx context.Context) error {
			src, ok := b.sourceDir(c)
			if !ok {
				return fmt.Errorf("source for %s is not available", c)
			}
			return b.exec.Run(ctx, Command{
				Name:    filepath.Join(src, "configure"),
				Args:    b.configureArgs(c),
				Dir:     buildDir,
				Env:     b.env,
				LogName: c.String() + "-configure",
			})
		},
	}
}

func (b *Builder) buildStep(c Component) Step {
	buildDir := b.Layout.BuildDir(c)
	return Step{
		Component: c,
		Action:    ActionBuild,
		Dir:       buildDir,
		Env:       b.env,
		Run: func(ctx context.Context) error {
			return b.exec.Run(ctx, Command{
				Name:    "make",
				Args:    b.makeArgs(),
				Dir:     buildDir,
				Env:     b.env,
				LogName: c.String() + "-build",
			})
		},
	}
}

// installSteps returns one step per install target. Only gcc installs in
// parts, each tracked and recorded under its own key.
func (b *Builder) installSteps(c Component) []Step {
	targets := b.installTargets(c)
	if len(targets) == 1 {
		return []Step{b.installStep(c, targets[0], nil)}
	}
	steps := make([]Step, 0, len(targets))
	for i, t := range targets {
		steps = append(steps, b.installStep(c, t, &Substep{Index: i + 1, Desc: t}))
	}
	return steps
}

func (b *Builder) installTargets(c Component) []string {
	if c == GCC {
		if v := b.cfg.Get("GCC_INSTALL_TARGETS", ""); v != "" {
			if targets := strings.Fields(v); len(targets) > 0 {
				return targets
			}
		}
		// The compiler must land before the target libraries: libgcc and
		// libstdc++ install rules invoke the freshly installed driver.
		return []string{"install-gcc", "install-target-libgcc", "install-target-libstdc++-v3"}
	}
	return []string{"install"}
}

func (b *Builder) installStep(c Component, target string, sub *Substep) Step {
	buildDir := b.Layout.BuildDir(c)
	st := Step{
		Component: c,
		Action:    ActionInstall,
		Substep:   sub,
		Dir:       buildDir,
		Env:       b.env,
	}
	key := st.Key()
	logName := c.String() + "-install"
	if sub != nil {
		logName = fmt.Sprintf("%s-install-%d", c, sub.Index)
	}
	st.Run = func(ctx context.Context) error {
		if err := b.tracker.Start(key, b.Layout.Install); err != nil {
			return err
		}
		if err := b.exec.Run(ctx, Command{
			Name:    "make",
			Args:    b.makeArgs(target),
			Dir:     buildDir,
			Env:     b.env,
			LogName: logName,
		}); err != nil {
			b.tracker.Discard(key)
			return err
		}
		added, err := b.tracker.Stop(key)
		if err != nil {
			return err
		}
		debugf("%s: recorded %d new path(s)\n", key, len(added))
		return nil
	}
	return st
}

func (b *Builder) configureArgs(c Component) []string {
	prefix := b.Layout.Install
	target := b.Arch.Triplet()
	var args []string
	switch c {
	case Binutils:
		args = []string{"--target=" + target, "--prefix=" + prefix, "--with-sysroot", "--disable-nls", "--disable-werror"}
	case GCC:
		args = []string{"--target=" + target, "--prefix=" + prefix, "--disable-nls", "--enable-languages=c,c++", "--without-headers"}
	case GDB:
		args = []string{"--target=" + target, "--prefix=" + prefix, "--disable-nls"}
	case Nasm:
		args = []string{"--prefix=" + prefix}
	case Qemu:
		args = []string{"--prefix=" + prefix, "--target-list=" + b.Arch.QemuSystem() + "-softmmu"}
	}
	if extra := b.cfg.Get("CONFIGURE_"+strings.ToUpper(c.String()), ""); extra != "" {
		args = append(args, strings.Fields(extra)...)
	}
	return args
}

func (b *Builder) makeArgs(targets ...string) []string {
	args := append([]string{}, b.makeFlags...)
	return append(args, targets...)
}

func (b *Builder) sourceDir(c Component) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sources[c]
	return s, ok
}

// buildEnv is the environment every configure, make and install runs in.
func (b *Builder) buildEnv() map[string]string {
	env := make(map[string]string, len(hostTools)+8)
	for k, v := range hostTools {
		env[k] = v
	}

	pkgConfig := "/usr/local/lib/pkgconfig/:/usr/local/lib64/pkgconfig/"
	if inherited := os.Getenv("PKG_CONFIG_PATH"); inherited != "" {
		pkgConfig += ":" + inherited
	}
	env["PKG_CONFIG_PATH"] = pkgConfig

	targetFlags := fmt.Sprintf("%s -march=%s -mtune=%s", targetBaseFlags, b.TargetArch, b.TargetTune)
	env["CFLAGS_FOR_TARGET"] = targetFlags
	env["CXXFLAGS_FOR_TARGET"] = targetFlags

	env["PREFIX"] = b.Layout.Install
	env["TARGET"] = b.Arch.Triplet()
	env["PATH"] = b.Layout.InstallBin() + ":" + os.Getenv("PATH")
	return env
}
