package sandbox

import (
	"fmt"
	"reflect"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"

	"scriptbox/internal/sandboxerr"
)

// Validator performs static pre-execution analysis of submitted source.
// It is a defense-in-depth pre-filter: the capability surface remains the
// primary control, the validator rejects disallowed code before any resource
// is consumed.
type Validator struct {
	policy           Config
	allowedModules   map[string]struct{}
	blockedModules   map[string]struct{}
	blockedCallables map[string]struct{}
}

// moduleLoaders are callables whose string argument names a module.
var moduleLoaders = map[string]struct{}{
	"require": {},
	"import":  {},
}

// NewValidator creates a validator for the given policy.
func NewValidator(policy Config) *Validator {
	return &Validator{
		policy:           policy,
		allowedModules:   toSet(policy.AllowedModules),
		blockedModules:   toSet(policy.BlockedModules),
		blockedCallables: toSet(policy.BlockedCallables),
	}
}

// Validate parses source and rejects it if it exceeds the policy's source
// length, fails to parse, or references blocked modules or callables.
// A parse error is itself a validation failure, never silently ignored.
func (v *Validator) Validate(source string) (err error) {
	if len(source) > v.policy.MaxSourceLength {
		return &sandboxerr.ValidationError{
			Reason:  "source_too_long",
			Message: fmt.Sprintf("source is %d bytes, limit is %d", len(source), v.policy.MaxSourceLength),
		}
	}

	program, parseErr := parser.ParseFile(nil, "sandbox.js", source, 0)
	if parseErr != nil {
		return &sandboxerr.ValidationError{
			Reason:  "syntax",
			Message: parseErr.Error(),
		}
	}

	// The walker recurses the AST via reflection so new node kinds cannot be
	// skipped silently. Any panic during the walk fails closed.
	defer func() {
		if r := recover(); r != nil {
			err = &sandboxerr.ValidationError{
				Reason:  "syntax",
				Message: fmt.Sprintf("analysis failed: %v", r),
			}
		}
	}()

	return v.walk(reflect.ValueOf(program))
}

// visit checks a single AST node against the policy.
func (v *Validator) visit(node any) error {
	switch n := node.(type) {
	case *ast.CallExpression:
		if name, ok := calleeName(n.Callee); ok {
			if _, blocked := v.blockedCallables[name]; blocked {
				return &sandboxerr.ValidationError{
					Reason:  "blocked_callable",
					Name:    name,
					Message: "call is not allowed",
				}
			}
			if _, loader := moduleLoaders[name]; loader {
				if err := v.checkModuleArg(n.ArgumentList); err != nil {
					return err
				}
			}
		}

	case *ast.NewExpression:
		if name, ok := calleeName(n.Callee); ok {
			if _, blocked := v.blockedCallables[name]; blocked {
				return &sandboxerr.ValidationError{
					Reason:  "blocked_callable",
					Name:    name,
					Message: "constructor is not allowed",
				}
			}
		}

	case *ast.Identifier:
		name := n.Name.String()
		if _, blocked := v.blockedModules[name]; blocked {
			return &sandboxerr.ValidationError{
				Reason:  "blocked_module",
				Name:    name,
				Message: "module reference is not allowed",
			}
		}
	}
	return nil
}

// checkModuleArg validates the module name passed to require/import.
func (v *Validator) checkModuleArg(args []ast.Expression) error {
	if len(args) == 0 {
		return nil
	}
	lit, ok := args[0].(*ast.StringLiteral)
	if !ok {
		// Dynamic module names cannot be analyzed statically; reject.
		return &sandboxerr.ValidationError{
			Reason:  "blocked_module",
			Message: "dynamic module name is not allowed",
		}
	}

	name := lit.Value.String()
	if _, blocked := v.blockedModules[name]; blocked {
		return &sandboxerr.ValidationError{
			Reason:  "blocked_module",
			Name:    name,
			Message: "module is blocked",
		}
	}
	if len(v.allowedModules) > 0 {
		if _, ok := v.allowedModules[name]; !ok {
			return &sandboxerr.ValidationError{
				Reason:  "blocked_module",
				Name:    name,
				Message: "module is not in the allow-list",
			}
		}
	}
	return nil
}

// calleeName resolves the static name of a call target, either a bare
// identifier or the member name of a dot expression.
func calleeName(callee ast.Expression) (string, bool) {
	switch c := callee.(type) {
	case *ast.Identifier:
		return c.Name.String(), true
	case *ast.DotExpression:
		return c.Identifier.Name.String(), true
	}
	return "", false
}

// walk recurses into pointers, interfaces, slices and exported struct fields,
// calling visit on every AST node it encounters.
func (v *Validator) walk(val reflect.Value) error {
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface:
		if val.IsNil() {
			return nil
		}
		if val.Kind() == reflect.Ptr && val.Elem().Kind() == reflect.Struct {
			if err := v.visit(val.Interface()); err != nil {
				return err
			}
		}
		return v.walk(val.Elem())

	case reflect.Slice:
		for i := 0; i < val.Len(); i++ {
			if err := v.walk(val.Index(i)); err != nil {
				return err
			}
		}

	case reflect.Struct:
		t := val.Type()
		for i := 0; i < val.NumField(); i++ {
			if t.Field(i).PkgPath != "" {
				continue // unexported
			}
			if err := v.walk(val.Field(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func toSet(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, v := range list {
		set[v] = struct{}{}
	}
	return set
}
