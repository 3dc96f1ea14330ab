// Package hostapi provides the capability surface injected into sandboxed
// code. Only the names registered here are reachable from executing code;
// anything not explicitly enumerated is absent.
package hostapi

import (
	"context"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// DebugSink receives debug events and variable snapshots from executing code.
type DebugSink interface {
	Log(message, level string, data any)
	Inspect(name string, value any)
	Info() map[string]any
}

// Context holds the host-side bindings for one sandbox instance.
type Context struct {
	Ctx         context.Context
	Logger      zerolog.Logger
	InstanceID  string
	ExecutionID string
	TenantID    string

	Stdout *CappedBuffer
	Stderr *CappedBuffer

	// Debugger is nil when debugging is disabled; the debug surface is then
	// not registered at all.
	Debugger DebugSink

	// DB is nil when no database capability was granted.
	DB Database
}

// registeredNames are the globals owned by the capability surface.
var registeredNames = []string{
	"print", "console",
	"debug", "inspect_var", "get_debug_info",
	"db_query", "db_tables", "db_schema",
}

// Register injects the capability surface into the given runtime.
func Register(vm *goja.Runtime, hctx *Context) error {
	registerPrint(vm, hctx)
	registerConsole(vm, hctx)

	if hctx.Debugger != nil {
		registerDebug(vm, hctx)
	}
	if hctx.DB != nil {
		if err := registerDB(vm, hctx); err != nil {
			return err
		}
	}
	return nil
}

// Unregister removes the capability surface from the runtime.
func Unregister(vm *goja.Runtime) {
	for _, name := range registeredNames {
		_ = vm.GlobalObject().Delete(name)
	}
}

// registerPrint injects print, writing to the instance's capped stdout.
func registerPrint(vm *goja.Runtime, hctx *Context) {
	_ = vm.Set("print", func(call goja.FunctionCall) goja.Value {
		msg := formatArgs(call.Arguments)
		_, _ = hctx.Stdout.Write([]byte(msg + "\n"))
		return goja.Undefined()
	})
}
