// Package stdlib implements Cosmo's minimal base library: the handful
// of globals a script needs to be runnable at all (print, assert,
// type, tonumber/tostring, loadstring, error, pcall) plus the string
// library. Registration is a flat map of name -> builtin handed to
// vm.Register once at startup; Cosmo has a single global namespace.
package stdlib

import (
	"fmt"
	"strconv"
	"strings"

	"cosmo/internal/value"
	"cosmo/internal/vm"
)

// Install registers the base library's globals and the TagString proto
// onto v. Call it once per VM, after vm.New and before running any
// user code that references these names.
func Install(v *vm.VM) {
	v.Register(map[string]value.Value{
		"print":      v.NewGoFunc("print", builtinPrint(v)),
		"assert":     v.NewGoFunc("assert", builtinAssert(v)),
		"type":       v.NewGoFunc("type", builtinType(v)),
		"tonumber":   v.NewGoFunc("tonumber", builtinTonumber(v)),
		"tostring":   v.NewGoFunc("tostring", builtinTostring(v)),
		"loadstring": v.NewGoFunc("loadstring", builtinLoadstring(v)),
		"error":      v.NewGoFunc("error", builtinError(v)),
		"pcall":      v.NewGoFunc("pcall", builtinPcall(v)),
	})
	installStringLib(v)
}

// builtinPrint writes every argument's String() form, space-separated,
// followed by a newline.
func builtinPrint(v *vm.VM) func([]value.Value) ([]value.Value, error) {
	return func(args []value.Value) ([]value.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = a.String()
		}
		fmt.Fprintln(v.Stdout, strings.Join(parts, " "))
		return nil, nil
	}
}

// builtinAssert raises when its first argument is falsy (the second
// argument, if given, becomes the message) and passes its arguments
// through on success.
func builtinAssert(v *vm.VM) func([]value.Value) ([]value.Value, error) {
	return func(args []value.Value) ([]value.Value, error) {
		if len(args) == 0 || !value.Truth(args[0]) {
			msg := "assertion failed!"
			if len(args) > 1 {
				msg = args[1].String()
			}
			return nil, v.Errorf("%s", msg)
		}
		return args, nil
	}
}

func builtinType(v *vm.VM) func([]value.Value) ([]value.Value, error) {
	return func(args []value.Value) ([]value.Value, error) {
		if len(args) == 0 {
			return nil, v.Errorf("type: expected one argument")
		}
		return []value.Value{v.InternString(args[0].Type())}, nil
	}
}

// builtinTonumber parses a string argument as a float, passes a Number
// through unchanged, and returns Nil for anything it cannot convert.
func builtinTonumber(v *vm.VM) func([]value.Value) ([]value.Value, error) {
	return func(args []value.Value) ([]value.Value, error) {
		if len(args) == 0 {
			return []value.Value{value.Nil}, nil
		}
		switch a := args[0].(type) {
		case value.Number:
			return []value.Value{a}, nil
		case *value.String:
			f, err := strconv.ParseFloat(strings.TrimSpace(a.Go()), 64)
			if err != nil {
				return []value.Value{value.Nil}, nil
			}
			return []value.Value{value.Number(f)}, nil
		default:
			return []value.Value{value.Nil}, nil
		}
	}
}

func builtinTostring(v *vm.VM) func([]value.Value) ([]value.Value, error) {
	return func(args []value.Value) ([]value.Value, error) {
		if len(args) == 0 {
			return []value.Value{v.InternString("nil")}, nil
		}
		return []value.Value{v.InternString(args[0].String())}, nil
	}
}

// builtinLoadstring compiles its string argument as a new chunk and
// returns the resulting closure, or (nil, errorMessage) on failure.
func builtinLoadstring(v *vm.VM) func([]value.Value) ([]value.Value, error) {
	return func(args []value.Value) ([]value.Value, error) {
		if len(args) == 0 {
			return nil, v.Errorf("loadstring: expected a string argument")
		}
		src, ok := args[0].(*value.String)
		if !ok {
			return nil, v.TypeError("loadstring", "string", args[0].Type())
		}
		cl, ok, errMsg := v.CompileString(src.Go(), "loadstring")
		if !ok {
			return []value.Value{value.Nil, v.InternString(errMsg)}, nil
		}
		return []value.Value{cl}, nil
	}
}

func builtinError(v *vm.VM) func([]value.Value) ([]value.Value, error) {
	return func(args []value.Value) ([]value.Value, error) {
		msg := "error"
		if len(args) > 0 {
			msg = args[0].String()
		}
		return nil, v.Errorf("%s", msg)
	}
}

// builtinPcall returns (true, f-result) if f does not error, else
// (false, message). It requests one result value from the protected
// call; a wrapped function returning more than one value has the rest
// discarded, since the calling convention fixes the expected result
// count at compile time and pcall has no caller-visible call site to
// infer it from.
func builtinPcall(v *vm.VM) func([]value.Value) ([]value.Value, error) {
	return func(args []value.Value) ([]value.Value, error) {
		if len(args) == 0 {
			return nil, v.Errorf("pcall: expected a function")
		}
		ok, results := v.PCall(args[0], args[1:], 1)
		out := make([]value.Value, 0, 1+len(results))
		out = append(out, value.Bool(ok))
		out = append(out, results...)
		return out, nil
	}
}
