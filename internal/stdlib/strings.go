package stdlib

import (
	"strings"

	"cosmo/internal/value"
	"cosmo/internal/vm"
)

// installStringLib registers the `string` global table and, so that
// `s:sub(...)` method syntax resolves through the same code as
// `string.sub(s, ...)`, installs the identical field set as the
// TagString proto object — the same mechanism __proto uses for user
// objects, applied to a primitive's built-in tag. One UserObject is
// shared by both registration points.
func installStringLib(v *vm.VM) {
	lib := v.NewUserObject()
	lib.SetOwn("sub", v.NewGoFunc("string.sub", builtinStringSub(v)))
	lib.SetOwn("find", v.NewGoFunc("string.find", builtinStringFind(v)))
	lib.SetOwn("split", v.NewGoFunc("string.split", builtinStringSplit(v)))
	lib.SetOwn("charAt", v.NewGoFunc("string.charAt", builtinStringCharAt(v)))
	lib.SetOwn("len", v.NewGoFunc("string.len", builtinStringLen(v)))
	lib.SetOwn("upper", v.NewGoFunc("string.upper", builtinStringUpper(v)))
	lib.SetOwn("lower", v.NewGoFunc("string.lower", builtinStringLower(v)))

	v.SetGlobal("string", lib)
	v.RegisterProtoObject(value.TagString, lib)
}

func stringArg(args []value.Value, i int, v *vm.VM, where string) (string, error) {
	if i >= len(args) {
		return "", v.Errorf("%s: expected a string argument", where)
	}
	s, ok := args[i].(*value.String)
	if !ok {
		return "", v.TypeError(where, "string", args[i].Type())
	}
	return s.Go(), nil
}

func numberArg(args []value.Value, i int, v *vm.VM, where string) (int, error) {
	if i >= len(args) {
		return 0, v.Errorf("%s: expected a number argument", where)
	}
	n, ok := args[i].(value.Number)
	if !ok {
		return 0, v.TypeError(where, "number", args[i].Type())
	}
	return int(n), nil
}

// builtinStringSub implements sub(s, start, length): start is a
// 0-based character offset and length is a character count, so
// sub("hello", 1, 3) returns "ell" (characters at indices 1,2,3) —
// not the 1-based-inclusive-end slicing other string libraries use.
// start+length may reach exactly len(s), never past it.
func builtinStringSub(v *vm.VM) func([]value.Value) ([]value.Value, error) {
	return func(args []value.Value) ([]value.Value, error) {
		s, err := stringArg(args, 0, v, "string.sub")
		if err != nil {
			return nil, err
		}
		start, err := numberArg(args, 1, v, "string.sub")
		if err != nil {
			return nil, err
		}
		length := len(s) - start
		if len(args) > 2 {
			length, err = numberArg(args, 2, v, "string.sub")
			if err != nil {
				return nil, err
			}
		}
		if start < 0 || length < 0 || start+length > len(s) {
			return nil, newBoundsError(v, "string.sub: index out of range")
		}
		return []value.Value{v.InternString(s[start : start+length])}, nil
	}
}

func newBoundsError(v *vm.VM, msg string) error {
	// Errorf tags the message as a user error; bounds violations on
	// string indices route through the same reporting path since stdlib
	// builtins have no direct access to the VM's KindBounds constructor.
	return v.Errorf("%s", msg)
}

// builtinStringFind returns the 0-based index of the first occurrence
// of needle in s, or Nil if absent.
func builtinStringFind(v *vm.VM) func([]value.Value) ([]value.Value, error) {
	return func(args []value.Value) ([]value.Value, error) {
		s, err := stringArg(args, 0, v, "string.find")
		if err != nil {
			return nil, err
		}
		needle, err := stringArg(args, 1, v, "string.find")
		if err != nil {
			return nil, err
		}
		i := strings.Index(s, needle)
		if i < 0 {
			return []value.Value{value.Nil}, nil
		}
		return []value.Value{value.Number(i)}, nil
	}
}

// builtinStringSplit splits s on every occurrence of sep, returning a
// table with 1-based integer keys (Cosmo's array convention).
func builtinStringSplit(v *vm.VM) func([]value.Value) ([]value.Value, error) {
	return func(args []value.Value) ([]value.Value, error) {
		s, err := stringArg(args, 0, v, "string.split")
		if err != nil {
			return nil, err
		}
		sep, err := stringArg(args, 1, v, "string.split")
		if err != nil {
			return nil, err
		}
		parts := strings.Split(s, sep)
		t := v.NewTable(len(parts))
		for i, p := range parts {
			t.Set(value.Number(i+1), v.InternString(p))
		}
		return []value.Value{t}, nil
	}
}

// builtinStringCharAt returns the single-character string at the given
// 0-based index.
func builtinStringCharAt(v *vm.VM) func([]value.Value) ([]value.Value, error) {
	return func(args []value.Value) ([]value.Value, error) {
		s, err := stringArg(args, 0, v, "string.charAt")
		if err != nil {
			return nil, err
		}
		i, err := numberArg(args, 1, v, "string.charAt")
		if err != nil {
			return nil, err
		}
		if i < 0 || i >= len(s) {
			return nil, newBoundsError(v, "string.charAt: index out of range")
		}
		return []value.Value{v.InternString(s[i : i+1])}, nil
	}
}

func builtinStringLen(v *vm.VM) func([]value.Value) ([]value.Value, error) {
	return func(args []value.Value) ([]value.Value, error) {
		s, err := stringArg(args, 0, v, "string.len")
		if err != nil {
			return nil, err
		}
		return []value.Value{value.Number(len(s))}, nil
	}
}

func builtinStringUpper(v *vm.VM) func([]value.Value) ([]value.Value, error) {
	return func(args []value.Value) ([]value.Value, error) {
		s, err := stringArg(args, 0, v, "string.upper")
		if err != nil {
			return nil, err
		}
		return []value.Value{v.InternString(strings.ToUpper(s))}, nil
	}
}

func builtinStringLower(v *vm.VM) func([]value.Value) ([]value.Value, error) {
	return func(args []value.Value) ([]value.Value, error) {
		s, err := stringArg(args, 0, v, "string.lower")
		if err != nil {
			return nil, err
		}
		return []value.Value{v.InternString(strings.ToLower(s))}, nil
	}
}
