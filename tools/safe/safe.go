package safe

import (
	"runtime/debug"

	"QRGate/logger"

	"go.uber.org/zap"
)

// Go runs f on its own goroutine and turns a panic into an error log, so a
// misbehaving background task cannot take the whole process down.
func Go(name string, f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panic recovered",
					zap.String("name", name),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
			}
		}()
		f()
	}()
}
