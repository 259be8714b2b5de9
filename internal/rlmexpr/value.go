// Package rlmexpr implements a small, typed expression/statement language
// that stands in for the dynamic REPL language the original sandbox
// interpreted, per the re-architecture guidance for "a sandboxed
// interpreter for a small expression language with typed bindings." It is
// hosted in-process by the sandbox runner (internal/rlmsandbox/runner) and
// exercised over the exact same framed protocol a real subprocess
// interpreter would use.
package rlmexpr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies a Value's runtime type.
type Kind int

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindBuiltin
	KindFinalMarker
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindBuiltin:
		return "builtin_function_or_method"
	case KindFinalMarker:
		return "final-marker"
	default:
		return "unknown"
	}
}

// Builtin is a host-provided function callable from user code.
type Builtin struct {
	Name string
	Fn   func(args []Value) (Value, error)
}

// Value is a dynamically typed runtime value in the expression language.
type Value struct {
	Kind    Kind
	Bool    bool
	Int     int64
	Float   float64
	Str     string
	List    []Value
	Builtin *Builtin
	// Final marker payload, set when Kind == KindFinalMarker.
	FinalIsVar bool
	FinalVar   string
}

// None is the singleton falsy/empty value.
var None = Value{Kind: KindNone}

func Bool(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value     { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func Str(s string) Value    { return Value{Kind: KindString, Str: s} }
func List(v []Value) Value  { return Value{Kind: KindList, List: v} }

// Truthy implements the language's notion of falsy values: None, false, 0,
// 0.0, "", and empty lists are falsy.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNone:
		return false
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int != 0
	case KindFloat:
		return v.Float != 0
	case KindString:
		return v.Str != ""
	case KindList:
		return len(v.List) != 0
	default:
		return true
	}
}

// Repr renders a value the way print() / str() would.
func (v Value) Repr() string {
	switch v.Kind {
	case KindNone:
		return "None"
	case KindBool:
		if v.Bool {
			return "True"
		}
		return "False"
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindString:
		return v.Str
	case KindList:
		parts := make([]string, len(v.List))
		for i, e := range v.List {
			if e.Kind == KindString {
				parts[i] = "'" + e.Str + "'"
			} else {
				parts[i] = e.Repr()
			}
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindBuiltin:
		return fmt.Sprintf("<built-in function %s>", v.Builtin.Name)
	case KindFinalMarker:
		return v.Repr2Final()
	default:
		return ""
	}
}

func (v Value) Repr2Final() string {
	if v.FinalIsVar {
		return fmt.Sprintf("<final_var %s>", v.FinalVar)
	}
	return "<final>"
}

// Env is a mutable binding namespace. It tracks insertion for SHOW_VARS
// (user-defined, non-builtin, non-private bindings) while always exposing
// builtins for lookups.
type Env struct {
	vars     map[string]Value
	order    []string
	builtins map[string]bool
}

// NewEnv creates an empty environment.
func NewEnv() *Env {
	return &Env{vars: map[string]Value{}, builtins: map[string]bool{}}
}

// Reset clears all user bindings, leaving builtins' declarations in place
// (callers re-register builtin values after Reset via SetBuiltin).
func (e *Env) Reset() {
	e.vars = map[string]Value{}
	e.order = nil
}

// Set assigns a user binding.
func (e *Env) Set(name string, v Value) {
	if _, exists := e.vars[name]; !exists {
		e.order = append(e.order, name)
	}
	e.vars[name] = v
}

// SetBuiltin assigns a binding and marks it as a builtin (excluded from
// SHOW_VARS and not considered "user-defined").
func (e *Env) SetBuiltin(name string, v Value) {
	e.Set(name, v)
	e.builtins[name] = true
}

// Get looks up a binding. ok is false for undefined names (NameError
// equivalent).
func (e *Env) Get(name string) (Value, bool) {
	v, ok := e.vars[name]
	return v, ok
}

// UserVars returns the name->kind listing SHOW_VARS renders: bindings that
// are neither builtins nor private (leading underscore).
func (e *Env) UserVars() map[string]string {
	out := map[string]string{}
	for _, name := range e.order {
		if e.builtins[name] || strings.HasPrefix(name, "_") {
			continue
		}
		v, ok := e.vars[name]
		if !ok {
			continue
		}
		out[name] = v.Kind.String()
	}
	return out
}

// UserVarNames returns the names SHOW_VARS would list, sorted by name,
// for deterministic rendering.
func (e *Env) UserVarNames() []string {
	names := make([]string, 0, len(e.order))
	for _, name := range e.order {
		if e.builtins[name] || strings.HasPrefix(name, "_") {
			continue
		}
		if _, ok := e.vars[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
