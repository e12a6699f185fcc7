package wfdb

import (
	"runtime"
	"sync/atomic"

	"github.com/gookit/color"
)

// GLOBAL STATE
// We use a value of 1 for critical and 0 for non-critical/default.
var isCriticalAtomic atomic.Int32

// Global variables
var (
	Debug     bool
	Verbose   bool
	version   = "dev" // default version; overridden at build time
	arch      = runtime.GOARCH
	buildDate = "unknown" // overridden at build time
	// Global executor (declared, assigned in Main)
	BuildExec *Executor
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
