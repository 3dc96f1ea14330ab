package hostapi

import (
	"fmt"

	"github.com/dop251/goja"
)

// registerDebug injects debug, inspect_var and get_debug_info.
func registerDebug(vm *goja.Runtime, hctx *Context) {
	_ = vm.Set("debug", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Undefined()
		}
		msg := formatValue(call.Arguments[0])
		level := "INFO"
		if len(call.Arguments) > 1 {
			level = call.Arguments[1].String()
		}
		var data any
		if len(call.Arguments) > 2 {
			data = call.Arguments[2].Export()
		}
		hctx.Debugger.Log(msg, level, data)
		return goja.Undefined()
	})

	_ = vm.Set("inspect_var", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(vm.NewTypeError("inspect_var requires a name and a value"))
		}
		name := call.Arguments[0].String()
		hctx.Debugger.Inspect(name, call.Arguments[1].Export())
		return goja.Undefined()
	})

	_ = vm.Set("get_debug_info", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(hctx.Debugger.Info())
	})
}

// registerConsole injects a console object. Output goes to the instance's
// capped stderr and is mirrored to the host log.
func registerConsole(vm *goja.Runtime, hctx *Context) {
	logger := hctx.Logger.With().
		Str("instance", hctx.InstanceID).
		Str("exec_id", hctx.ExecutionID).
		Logger()

	console := vm.NewObject()

	emit := func(level string) func(call goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			msg := formatArgs(call.Arguments)
			_, _ = hctx.Stderr.Write([]byte(msg + "\n"))
			switch level {
			case "debug":
				logger.Debug().Msg(msg)
			case "warn":
				logger.Warn().Msg(msg)
			case "error":
				logger.Error().Msg(msg)
			default:
				logger.Info().Msg(msg)
			}
			return goja.Undefined()
		}
	}

	_ = console.Set("log", emit("info"))
	_ = console.Set("debug", emit("debug"))
	_ = console.Set("info", emit("info"))
	_ = console.Set("warn", emit("warn"))
	_ = console.Set("error", emit("error"))

	_ = vm.Set("console", console)
}

// formatArgs formats call arguments into a single message string, joined
// with spaces like console.log.
func formatArgs(args []goja.Value) string {
	if len(args) == 0 {
		return ""
	}

	result := formatValue(args[0])
	for i := 1; i < len(args); i++ {
		result += " " + formatValue(args[i])
	}
	return result
}

// formatValue converts a goja.Value to a string representation.
func formatValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}

	exported := v.Export()
	if s, ok := exported.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", exported)
}
