package rlmexpr

import "fmt"

// EvalError is a user-code failure (an undefined name, a bad operand type, a
// call to a non-callable) — ordinary output from the runner's point of view,
// never a protocol violation.
type EvalError struct {
	msg string
}

func (e *EvalError) Error() string { return e.msg }

func nameError(name string) error {
	return &EvalError{msg: fmt.Sprintf("NameError: name '%s' is not defined", name)}
}

func typeError(format string, args ...any) error {
	return &EvalError{msg: "TypeError: " + fmt.Sprintf(format, args...)}
}

// finalSignal unwinds statement execution once FINAL/FINAL_VAR has fired;
// it is caught inside Interp.Run and never escapes as a reported error.
type finalSignal struct{}

func (finalSignal) Error() string { return "final" }

// Interp executes parsed statements against an Env, collecting stdout and
// the terminal FINAL/FINAL_VAR marker the way the sandboxed process would.
type Interp struct {
	Env    *Env
	Stdout []byte

	FinalAnswer  *string
	FinalIsVar   bool
	FinalVarName string

	// LLMQuery and LLMQueryBatch back the llm_query/llm_query_batched
	// builtins; they are wired by the runner to the host round-trip.
	LLMQuery      func(instruction, content string) (string, error)
	LLMQueryBatch func(prompts []string) ([]string, error)
}

// NewInterp builds an Interp with an Env pre-populated with builtins and an
// optional document context list.
func NewInterp(context []string) *Interp {
	it := &Interp{Env: NewEnv()}
	it.registerBuiltins(context)
	return it
}

// BeginExecution clears the per-execute state (stdout buffer and any final
// marker) while leaving user bindings untouched, so one Interp can serve a
// sequence of execute commands the way a persistent namespace does.
func (it *Interp) BeginExecution() {
	it.Stdout = nil
	it.FinalAnswer = nil
	it.FinalIsVar = false
	it.FinalVarName = ""
}

// Reset clears all user bindings and re-registers builtins, the way the
// runner's reset action clears its namespace but keeps llm_query/FINAL/etc.
// available. The document context list is re-seeded as empty; callers that
// need it restored must send a fresh setup command afterward, matching the
// reference runner's reset behavior (reset drops context too).
func (it *Interp) Reset() {
	it.Env.Reset()
	it.registerBuiltins(nil)
	it.BeginExecution()
}

// SetContext (re)binds the context document list, used by the setup action.
func (it *Interp) SetContext(docs []string) {
	vals := make([]Value, len(docs))
	for i, d := range docs {
		vals[i] = Str(d)
	}
	it.Env.SetBuiltin("context", List(vals))
}

// Run executes a sequence of parsed statements. It stops early, without
// error, once a FINAL/FINAL_VAR call has set it.FinalAnswer / FinalVarName.
func (it *Interp) Run(stmts []Stmt) error {
	for _, s := range stmts {
		if err := it.execStmt(s); err != nil {
			if _, ok := err.(finalSignal); ok {
				return nil
			}
			return err
		}
		if it.FinalAnswer != nil || it.FinalIsVar {
			return nil
		}
	}
	return nil
}

func (it *Interp) execStmt(s Stmt) error {
	v, err := it.eval(s.Expr)
	if err != nil {
		return err
	}
	if s.Assign != "" {
		it.Env.Set(s.Assign, v)
	}
	return nil
}

func (it *Interp) eval(e Expr) (Value, error) {
	switch e.op {
	case opLit:
		return e.Lit, nil
	case opIdent:
		v, ok := it.Env.Get(e.Name)
		if !ok {
			return Value{}, nameError(e.Name)
		}
		return v, nil
	case opList:
		vals := make([]Value, len(e.Elems))
		for i, el := range e.Elems {
			v, err := it.eval(el)
			if err != nil {
				return Value{}, err
			}
			vals[i] = v
		}
		return List(vals), nil
	case opUnary:
		return it.evalUnary(e)
	case opBinary:
		return it.evalBinary(e)
	case opIndex:
		return it.evalIndex(e)
	case opCall:
		return it.evalCall(e)
	default:
		return Value{}, typeError("unsupported expression")
	}
}

func (it *Interp) evalUnary(e Expr) (Value, error) {
	x, err := it.eval(*e.X)
	if err != nil {
		return Value{}, err
	}
	switch e.Op {
	case "not":
		return Bool(!x.Truthy()), nil
	case "-":
		switch x.Kind {
		case KindInt:
			return Int(-x.Int), nil
		case KindFloat:
			return Float(-x.Float), nil
		default:
			return Value{}, typeError("bad operand type for unary -: '%s'", x.Kind)
		}
	default:
		return Value{}, typeError("unknown unary operator %q", e.Op)
	}
}

func (it *Interp) evalBinary(e Expr) (Value, error) {
	if e.Op == "and" {
		l, err := it.eval(*e.X)
		if err != nil {
			return Value{}, err
		}
		if !l.Truthy() {
			return l, nil
		}
		return it.eval(*e.Y)
	}
	if e.Op == "or" {
		l, err := it.eval(*e.X)
		if err != nil {
			return Value{}, err
		}
		if l.Truthy() {
			return l, nil
		}
		return it.eval(*e.Y)
	}

	l, err := it.eval(*e.X)
	if err != nil {
		return Value{}, err
	}
	r, err := it.eval(*e.Y)
	if err != nil {
		return Value{}, err
	}
	return applyBinary(e.Op, l, r)
}

func applyBinary(op string, l, r Value) (Value, error) {
	switch op {
	case "+":
		switch {
		case l.Kind == KindString && r.Kind == KindString:
			return Str(l.Str + r.Str), nil
		case l.Kind == KindList && r.Kind == KindList:
			out := make([]Value, 0, len(l.List)+len(r.List))
			out = append(out, l.List...)
			out = append(out, r.List...)
			return List(out), nil
		case isNumeric(l) && isNumeric(r):
			return numericOp(op, l, r)
		}
		return Value{}, typeError("unsupported operand type(s) for +: '%s' and '%s'", l.Kind, r.Kind)
	case "-", "*", "/", "%":
		if isNumeric(l) && isNumeric(r) {
			return numericOp(op, l, r)
		}
		if op == "*" && l.Kind == KindString && r.Kind == KindInt {
			out := ""
			for i := int64(0); i < r.Int; i++ {
				out += l.Str
			}
			return Str(out), nil
		}
		return Value{}, typeError("unsupported operand type(s) for %s: '%s' and '%s'", op, l.Kind, r.Kind)
	case "==":
		return Bool(valuesEqual(l, r)), nil
	case "!=":
		return Bool(!valuesEqual(l, r)), nil
	case "<", ">", "<=", ">=":
		return compareValues(op, l, r)
	default:
		return Value{}, typeError("unknown operator %q", op)
	}
}

func isNumeric(v Value) bool { return v.Kind == KindInt || v.Kind == KindFloat }

func asFloat(v Value) float64 {
	if v.Kind == KindFloat {
		return v.Float
	}
	return float64(v.Int)
}

func numericOp(op string, l, r Value) (Value, error) {
	if l.Kind == KindInt && r.Kind == KindInt {
		switch op {
		case "+":
			return Int(l.Int + r.Int), nil
		case "-":
			return Int(l.Int - r.Int), nil
		case "*":
			return Int(l.Int * r.Int), nil
		case "/":
			if r.Int == 0 {
				return Value{}, &EvalError{msg: "ZeroDivisionError: division by zero"}
			}
			return Float(float64(l.Int) / float64(r.Int)), nil
		case "%":
			if r.Int == 0 {
				return Value{}, &EvalError{msg: "ZeroDivisionError: modulo by zero"}
			}
			return Int(l.Int % r.Int), nil
		}
	}
	lf, rf := asFloat(l), asFloat(r)
	switch op {
	case "+":
		return Float(lf + rf), nil
	case "-":
		return Float(lf - rf), nil
	case "*":
		return Float(lf * rf), nil
	case "/":
		if rf == 0 {
			return Value{}, &EvalError{msg: "ZeroDivisionError: division by zero"}
		}
		return Float(lf / rf), nil
	case "%":
		return Value{}, typeError("unsupported operand type(s) for %%: 'float' and 'float'")
	}
	return Value{}, typeError("unknown operator %q", op)
}

func valuesEqual(l, r Value) bool {
	if isNumeric(l) && isNumeric(r) {
		return asFloat(l) == asFloat(r)
	}
	if l.Kind != r.Kind {
		return false
	}
	switch l.Kind {
	case KindNone:
		return true
	case KindBool:
		return l.Bool == r.Bool
	case KindString:
		return l.Str == r.Str
	case KindList:
		if len(l.List) != len(r.List) {
			return false
		}
		for i := range l.List {
			if !valuesEqual(l.List[i], r.List[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func compareValues(op string, l, r Value) (Value, error) {
	var cmp int
	switch {
	case isNumeric(l) && isNumeric(r):
		lf, rf := asFloat(l), asFloat(r)
		switch {
		case lf < rf:
			cmp = -1
		case lf > rf:
			cmp = 1
		}
	case l.Kind == KindString && r.Kind == KindString:
		switch {
		case l.Str < r.Str:
			cmp = -1
		case l.Str > r.Str:
			cmp = 1
		}
	default:
		return Value{}, typeError("'%s' not supported between instances of '%s' and '%s'", op, l.Kind, r.Kind)
	}
	switch op {
	case "<":
		return Bool(cmp < 0), nil
	case ">":
		return Bool(cmp > 0), nil
	case "<=":
		return Bool(cmp <= 0), nil
	case ">=":
		return Bool(cmp >= 0), nil
	}
	return Value{}, typeError("unknown comparison %q", op)
}

func (it *Interp) evalIndex(e Expr) (Value, error) {
	base, err := it.eval(*e.Base)
	if err != nil {
		return Value{}, err
	}
	idx, err := it.eval(*e.Idx)
	if err != nil {
		return Value{}, err
	}
	if idx.Kind != KindInt {
		return Value{}, typeError("list indices must be integers")
	}
	i := idx.Int
	switch base.Kind {
	case KindList:
		if i < 0 {
			i += int64(len(base.List))
		}
		if i < 0 || i >= int64(len(base.List)) {
			return Value{}, &EvalError{msg: "IndexError: list index out of range"}
		}
		return base.List[i], nil
	case KindString:
		runes := []rune(base.Str)
		if i < 0 {
			i += int64(len(runes))
		}
		if i < 0 || i >= int64(len(runes)) {
			return Value{}, &EvalError{msg: "IndexError: string index out of range"}
		}
		return Str(string(runes[i])), nil
	default:
		return Value{}, typeError("'%s' object is not subscriptable", base.Kind)
	}
}

func (it *Interp) evalCall(e Expr) (Value, error) {
	fnVal, err := it.eval(*e.Fn)
	if err != nil {
		return Value{}, err
	}
	if fnVal.Kind != KindBuiltin {
		return Value{}, typeError("'%s' object is not callable", fnVal.Kind)
	}
	args := make([]Value, len(e.Args))
	for i, a := range e.Args {
		v, err := it.eval(a)
		if err != nil {
			return Value{}, err
		}
		args[i] = v
	}
	return fnVal.Builtin.Fn(args)
}
