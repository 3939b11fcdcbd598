package kronix

import (
	"fmt"
	"os"
	"sync"

	"github.com/gookit/color"
)

// Global variables
var (
	Debug      bool
	version    = "dev" //default version; overridden at build time
	buildDate  = "unknown" // overridden at build time
	ConfigFile = "/etc/kronix.conf"
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)

// color-compatible printer interface (works with *color.Theme and *color.Style)
type colorPrinter interface {
	Printf(format string, a ...any)
	Println(a ...any)
}

// cPrintf prints with a colored style or falls back to fmt.Printf when nil
func cPrintf(p colorPrinter, format string, a ...any) {
	if p == nil {
		fmt.Printf(format, a...)
		return
	}
	p.Printf(format, a...)
}

// cPrintln prints a line with the given style or falls back to fmt.Println when nil
func cPrintln(p colorPrinter, a ...any) {
	if p == nil {
		fmt.Println(a...)
		return
	}
	p.Println(a...)
}

// debugf prints debug messages when Debug is true
func debugf(format string, args ...any) {
	if Debug {
		fmt.Printf(format, args...)
	}
}

// Version returns the version string stamped at build time.
func Version() string {
	return fmt.Sprintf("%s (built %s)", version, buildDate)
}

// StepObserver receives step lifecycle notifications from the engine. The
// engine never prints on its own; rendering belongs to the observer.
type StepObserver interface {
	StepStarted(n uint64, desc string)
	StepSucceeded(n uint64, desc string)
	StepFailed(n uint64, desc string, err error)
	StepRecovered(n uint64, desc string)
	StepAborted(n uint64, desc string)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

// ConsoleObserver renders step progress on the terminal and optionally tees
// a plain-text copy to a log file.
type ConsoleObserver struct {
	mu      sync.Mutex
	logFile *os.File
	Quiet   bool
}

// NewConsoleObserver returns a console observer. When logPath is non-empty
// all output is also appended, uncolored, to that file.
func NewConsoleObserver(logPath string) (*ConsoleObserver, error) {
	o := &ConsoleObserver{}
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("cannot open log file %s: %w", logPath, err)
		}
		o.logFile = f
	}
	return o, nil
}

// Close releases the log file, if any.
func (o *ConsoleObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.logFile == nil {
		return nil
	}
	err := o.logFile.Close()
	o.logFile = nil
	return err
}

func (o *ConsoleObserver) tee(format string, args ...any) {
	if o.logFile != nil {
		fmt.Fprintf(o.logFile, format+"\n", args...)
	}
}

func (o *ConsoleObserver) StepStarted(n uint64, desc string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.Quiet {
		colArrow.Print("-> ")
		colSuccess.Printf("Step %d: %s\n", n, desc)
	}
	o.tee("[step %d] %s", n, desc)
}

func (o *ConsoleObserver) StepSucceeded(n uint64, desc string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.Quiet {
		colArrow.Print("-> ")
		cPrintf(colInfo, "Step %d: %s\n", n, desc)
	}
	o.tee("[step %d] %s", n, desc)
}

func (o *ConsoleObserver) StepFailed(n uint64, desc string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	colArrow.Print("-> ")
	cPrintf(colError, "Step %d failed: %s\n", n, desc)
	cPrintf(colError, "   %v\n", err)
	o.tee("[step %d] failed: %s: %v", n, desc, err)
}

func (o *ConsoleObserver) StepRecovered(n uint64, desc string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	colArrow.Print("-> ")
	cPrintf(colWarn, "Step %d failed, continuing: %s\n", n, desc)
	o.tee("[step %d] failed, continuing: %s", n, desc)
}

func (o *ConsoleObserver) StepAborted(n uint64, desc string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	colArrow.Print("-> ")
	cPrintf(colError, "Step %d aborted: %s\n", n, desc)
	o.tee("[step %d] aborted: %s", n, desc)
}

func (o *ConsoleObserver) Infof(format string, args ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.Quiet {
		colArrow.Print("-> ")
		cPrintf(nil, format+"\n", args...)
	}
	o.tee(format, args...)
}

func (o *ConsoleObserver) Warnf(format string, args ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	colArrow.Print("-> ")
	cPrintf(colWarn, format+"\n", args...)
	o.tee("warning: "+format, args...)
}
