package hostapi

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
)

// Database is the narrow query capability granted to a sandbox instance.
// The sandbox only forwards; statement validation, result caps and audit
// logging are the implementation's concern.
type Database interface {
	Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
	Tables(ctx context.Context) ([]string, error)
	Schema(ctx context.Context, table string) ([]ColumnInfo, error)
}

// ColumnInfo describes one column of a table exposed through db_schema.
type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Default  any    `json:"default,omitempty"`
}

// registerDB injects db_query, db_tables and db_schema.
func registerDB(vm *goja.Runtime, hctx *Context) error {
	_ = vm.Set("db_query", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(vm.NewTypeError("db_query requires a query string"))
		}
		query := call.Arguments[0].String()

		var params map[string]any
		if len(call.Arguments) > 1 && !goja.IsUndefined(call.Arguments[1]) && !goja.IsNull(call.Arguments[1]) {
			exported := call.Arguments[1].Export()
			m, ok := exported.(map[string]any)
			if !ok {
				panic(vm.NewTypeError("db_query params must be an object"))
			}
			params = m
		}

		rows, err := hctx.DB.Query(hctx.Ctx, query, params)
		if err != nil {
			panic(vm.NewTypeError(fmt.Sprintf("db_query failed: %v", err)))
		}
		return vm.ToValue(rows)
	})

	_ = vm.Set("db_tables", func(call goja.FunctionCall) goja.Value {
		tables, err := hctx.DB.Tables(hctx.Ctx)
		if err != nil {
			panic(vm.NewTypeError(fmt.Sprintf("db_tables failed: %v", err)))
		}
		return vm.ToValue(tables)
	})

	_ = vm.Set("db_schema", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(vm.NewTypeError("db_schema requires a table name"))
		}
		table := call.Arguments[0].String()

		columns, err := hctx.DB.Schema(hctx.Ctx, table)
		if err != nil {
			panic(vm.NewTypeError(fmt.Sprintf("db_schema failed: %v", err)))
		}
		return vm.ToValue(columns)
	})

	return nil
}
