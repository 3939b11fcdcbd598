package kronix

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// Command describes one external invocation. Env entries are laid over the
// process environment, so the child sees exactly what the caller declared
// regardless of any ambient overrides in effect.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Env     map[string]string
	LogName string // basename for the per-step log, without extension
}

// Executor runs build commands, isolating each in its own process group so
// cancellation tears down the whole make tree, and teeing output to
// per-step log files.
type Executor struct {
	LogDir            string // empty disables file logging
	Quiet             bool   // suppress the console copy of command output
	ApplyIdlePriority bool   // apply nice -n 19 to commands
}

// Run executes c, streaming combined output to the console and the step
// log. The child never reads the terminal.
func (e *Executor) Run(ctx context.Context, c Command) error {
	name := c.Name
	args := c.Args
	if e.ApplyIdlePriority {
		args = append([]string{"-n", "19", name}, args...)
		name = "nice"
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = c.Dir
	cmd.Env = mergeEnviron(c.Env)

	var writers []io.Writer
	if !e.Quiet {
		writers = append(writers, os.Stdout)
	}
	if e.LogDir != "" && c.LogName != "" {
		if err := os.MkdirAll(e.LogDir, 0o755); err != nil {
			return err
		}
		path := filepath.Join(e.LogDir, c.LogName+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("cannot open command log %s: %w", path, err)
		}
		defer f.Close()
		fmt.Fprintf(f, "+ %s %s\n", c.Name, strings.Join(c.Args, " "))
		writers = append(writers, f)
	}
	var out io.Writer = io.Discard
	if len(writers) > 0 {
		out = io.MultiWriter(writers...)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	// isolate process group for context-based cleanup
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", c.Name, err)
	}

	pgid := cmd.Process.Pid
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			syscall.Kill(-pgid, syscall.SIGKILL)
		case <-done:
		}
	}()

	if waitErr := cmd.Wait(); waitErr != nil {
		if ctx.Err() != nil {
			time.Sleep(100 * time.Millisecond)
			return fmt.Errorf("command aborted: %v", ctx.Err())
		}
		return fmt.Errorf("%s: %w", c.Name, waitErr)
	}
	return nil
}

// mergeEnviron lays overrides over the current process environment.
// Override keys are appended in sorted order so the result is stable.
func mergeEnviron(overrides map[string]string) []string {
	environ := os.Environ()
	if len(overrides) == 0 {
		return environ
	}
	out := make([]string, 0, len(environ)+len(overrides))
	for _, kv := range environ {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[k]; ok {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}
