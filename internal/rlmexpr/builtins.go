package rlmexpr

import (
	"fmt"
	"strings"
)

func builtin(name string, fn func(args []Value) (Value, error)) Value {
	return Value{Kind: KindBuiltin, Builtin: &Builtin{Name: name, Fn: fn}}
}

// registerBuiltins wires the fixed builtin surface the engine's prompts
// describe: print, len, callable, FINAL/FINAL_VAR, llm_query,
// llm_query_batched, SHOW_VARS, plus the context document list.
func (it *Interp) registerBuiltins(context []string) {
	it.Env.SetBuiltin("print", builtin("print", func(args []Value) (Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = a.Repr()
		}
		it.Stdout = append(it.Stdout, []byte(strings.Join(parts, " ")+"\n")...)
		return None, nil
	}))

	it.Env.SetBuiltin("len", builtin("len", func(args []Value) (Value, error) {
		if len(args) != 1 {
			return Value{}, typeError("len() takes exactly one argument (%d given)", len(args))
		}
		switch args[0].Kind {
		case KindList:
			return Int(int64(len(args[0].List))), nil
		case KindString:
			return Int(int64(len([]rune(args[0].Str)))), nil
		default:
			return Value{}, typeError("object of type '%s' has no len()", args[0].Kind)
		}
	}))

	it.Env.SetBuiltin("callable", builtin("callable", func(args []Value) (Value, error) {
		if len(args) != 1 {
			return Value{}, typeError("callable() takes exactly one argument (%d given)", len(args))
		}
		return Bool(args[0].Kind == KindBuiltin), nil
	}))

	it.Env.SetBuiltin("FINAL", builtin("FINAL", func(args []Value) (Value, error) {
		if len(args) != 1 {
			return Value{}, typeError("FINAL() takes exactly one argument (%d given)", len(args))
		}
		ans := args[0].Repr()
		it.FinalAnswer = &ans
		return None, finalSignal{}
	}))

	it.Env.SetBuiltin("FINAL_VAR", builtin("FINAL_VAR", func(args []Value) (Value, error) {
		if len(args) != 1 || args[0].Kind != KindString {
			return Value{}, typeError("FINAL_VAR() takes exactly one string argument naming a variable")
		}
		it.FinalIsVar = true
		it.FinalVarName = args[0].Str
		return None, finalSignal{}
	}))

	it.Env.SetBuiltin("llm_query", builtin("llm_query", func(args []Value) (Value, error) {
		if len(args) < 1 || len(args) > 2 {
			return Value{}, typeError("llm_query() takes 1 or 2 arguments (%d given)", len(args))
		}
		if args[0].Kind != KindString {
			return Value{}, typeError("llm_query() instruction must be a string")
		}
		content := ""
		if len(args) == 2 {
			if args[1].Kind != KindString {
				return Value{}, typeError("llm_query() content must be a string")
			}
			content = args[1].Str
		}
		if it.LLMQuery == nil {
			return Value{}, &EvalError{msg: "RuntimeError: llm_query is not available in this context"}
		}
		result, err := it.LLMQuery(args[0].Str, content)
		if err != nil {
			return Value{}, &EvalError{msg: fmt.Sprintf("RuntimeError: %v", err)}
		}
		return Str(result), nil
	}))

	it.Env.SetBuiltin("llm_query_batched", builtin("llm_query_batched", func(args []Value) (Value, error) {
		if len(args) != 1 || args[0].Kind != KindList {
			return Value{}, typeError("llm_query_batched() takes exactly one list argument")
		}
		prompts := make([]string, len(args[0].List))
		for i, v := range args[0].List {
			if v.Kind != KindString {
				return Value{}, typeError("llm_query_batched() prompts must all be strings")
			}
			prompts[i] = v.Str
		}
		if it.LLMQueryBatch == nil {
			return Value{}, &EvalError{msg: "RuntimeError: llm_query_batched is not available in this context"}
		}
		results, err := it.LLMQueryBatch(prompts)
		if err != nil {
			return Value{}, &EvalError{msg: fmt.Sprintf("RuntimeError: %v", err)}
		}
		out := make([]Value, len(results))
		for i, r := range results {
			out[i] = Str(r)
		}
		return List(out), nil
	}))

	it.Env.SetBuiltin("SHOW_VARS", builtin("SHOW_VARS", func(args []Value) (Value, error) {
		names := it.Env.UserVarNames()
		lines := make([]string, len(names))
		for i, name := range names {
			v, _ := it.Env.Get(name)
			lines[i] = fmt.Sprintf("%s: %s", name, v.Kind.String())
		}
		it.Stdout = append(it.Stdout, []byte(strings.Join(lines, "\n")+"\n")...)
		return None, nil
	}))

	docs := make([]Value, len(context))
	for i, d := range context {
		docs[i] = Str(d)
	}
	it.Env.SetBuiltin("context", List(docs))
}
