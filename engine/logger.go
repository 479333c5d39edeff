package engine

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	nopLogger     = zap.NewNop()
	packageLogger atomic.Pointer[zap.Logger]
)

// Logger returns the logger used by engines whose Config leaves Logger
// nil. It discards everything until SetLogger is called.
func Logger() *zap.Logger {
	if l := packageLogger.Load(); l != nil {
		return l
	}
	return nopLogger
}

// SetLogger replaces the package logger. Engines read it once, in New;
// a nil logger restores the default.
func SetLogger(l *zap.Logger) {
	if l == nil {
		packageLogger.Store(nil)
		return
	}
	packageLogger.Store(l.Named("emhost"))
}
