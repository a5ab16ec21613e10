//go:build !windows

package hook

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

// NewEngine on non-Windows platforms returns the unsupported engine since
// the fromapp entry points only exist on Windows.
func NewEngine(library string, logger *zap.Logger) Engine {
	logger.Debug("binary interception unavailable", zap.String("os", runtime.GOOS))
	return NewUnsupportedEngine(fmt.Sprintf("%s requires Windows, running on %s", library, runtime.GOOS))
}
