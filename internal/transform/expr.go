package transform

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"hub/pkg/cel"
)

// celPrefix marks a computed-field expression to be handed to the CEL
// evaluator instead of the built-in function syntax.
const celPrefix = "cel:"

type exprFunc func(args []interface{}) (interface{}, error)

type exprKind int

const (
	exprPath exprKind = iota
	exprCall
	exprCEL
)

// parsedExpr is the parse-once form of an expression: a bare dotted path,
// a function call with raw argument tokens, or CEL source.
type parsedExpr struct {
	kind exprKind
	text string
	name string
	args []string
}

// ExprEvaluator evaluates computed-field expressions. Expressions are
// either a bare dotted path, a single function call with path or quoted
// string arguments, or a CEL expression behind the "cel:" prefix. Each
// expression is parsed once and cached; only argument resolution runs
// per evaluation.
type ExprEvaluator struct {
	cel   *cel.Evaluator
	now   func() time.Time
	funcs map[string]exprFunc

	mu     sync.RWMutex
	parsed map[string]*parsedExpr
}

func NewExprEvaluator(evaluator *cel.Evaluator) *ExprEvaluator {
	e := &ExprEvaluator{
		cel:    evaluator,
		now:    time.Now,
		funcs:  make(map[string]exprFunc),
		parsed: make(map[string]*parsedExpr),
	}

	e.Register("concat", fnConcat)
	e.Register("uppercase", fnUppercase)
	e.Register("lowercase", fnLowercase)
	e.Register("trim", fnTrim)
	e.Register("now", func(args []interface{}) (interface{}, error) {
		if len(args) != 0 {
			return nil, fmt.Errorf("now takes no arguments")
		}
		return e.now().UTC().Format(time.RFC3339), nil
	})

	return e
}

// Register adds or replaces a named expression function.
func (e *ExprEvaluator) Register(name string, fn exprFunc) {
	e.funcs[name] = fn
}

// Validate checks that an expression is well formed without evaluating it.
func (e *ExprEvaluator) Validate(expression string) error {
	p, err := e.parse(expression)
	if err != nil {
		return err
	}

	switch p.kind {
	case exprCEL:
		return e.cel.ValidateExpression(p.text)
	case exprCall:
		if _, ok := e.funcs[p.name]; !ok {
			return fmt.Errorf("unknown function %q", p.name)
		}
	}
	return nil
}

// Eval evaluates an expression against the stage input document and the
// output document built so far.
func (e *ExprEvaluator) Eval(ctx context.Context, expression string, input, doc map[string]interface{}) (interface{}, error) {
	p, err := e.parse(expression)
	if err != nil {
		return nil, err
	}

	switch p.kind {
	case exprCEL:
		return e.cel.Evaluate(ctx, p.text, input, doc)
	case exprPath:
		return e.resolveArg(p.text, input, doc)
	}

	fn, ok := e.funcs[p.name]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", p.name)
	}

	args := make([]interface{}, 0, len(p.args))
	for _, raw := range p.args {
		value, err := e.resolveArg(raw, input, doc)
		if err != nil {
			return nil, err
		}
		args = append(args, value)
	}

	return fn(args)
}

// parse returns the cached parsed form of an expression, splitting it
// into path, call or CEL shape on first sight.
func (e *ExprEvaluator) parse(expression string) (*parsedExpr, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("empty expression")
	}

	e.mu.RLock()
	p, ok := e.parsed[expression]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	p = &parsedExpr{kind: exprPath, text: expression}
	if rest, isCEL := strings.CutPrefix(expression, celPrefix); isCEL {
		p.kind = exprCEL
		p.text = rest
	} else if name, rawArgs, isCall := splitCall(expression); isCall {
		args, err := splitArgs(rawArgs)
		if err != nil {
			return nil, err
		}
		p.kind = exprCall
		p.name = name
		p.args = args
	}

	e.mu.Lock()
	e.parsed[expression] = p
	e.mu.Unlock()

	return p, nil
}

// resolveArg turns one argument token into a value: a quoted string stays
// literal, a number parses, anything else is a dotted path looked up in
// the input document first and the output document second.
func (e *ExprEvaluator) resolveArg(token string, input, doc map[string]interface{}) (interface{}, error) {
	token = strings.TrimSpace(token)

	if len(token) >= 2 {
		if (token[0] == '"' && token[len(token)-1] == '"') ||
			(token[0] == '\'' && token[len(token)-1] == '\'') {
			return token[1 : len(token)-1], nil
		}
	}

	if n, err := strconv.ParseFloat(token, 64); err == nil {
		return n, nil
	}

	if value, ok := Lookup(input, token); ok {
		return value, nil
	}
	if value, ok := Lookup(doc, token); ok {
		return value, nil
	}

	return nil, fmt.Errorf("unknown field %q", token)
}

// splitCall recognizes "name(args)" and returns the name and raw argument
// string. Nested calls are not supported.
func splitCall(expression string) (name, rawArgs string, ok bool) {
	open := strings.IndexByte(expression, '(')
	if open <= 0 || !strings.HasSuffix(expression, ")") {
		return "", "", false
	}

	name = strings.TrimSpace(expression[:open])
	for _, r := range name {
		if !isIdentRune(r) {
			return "", "", false
		}
	}

	return name, expression[open+1 : len(expression)-1], true
}

func isIdentRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// splitArgs splits a raw argument list on commas, honoring quotes.
func splitArgs(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var (
		args    []string
		current strings.Builder
		quote   byte
	)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case quote != 0:
			current.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
			current.WriteByte(c)
		case c == ',':
			args = append(args, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated string in arguments")
	}
	args = append(args, strings.TrimSpace(current.String()))

	return args, nil
}

func fnConcat(args []interface{}) (interface{}, error) {
	var sb strings.Builder
	for _, arg := range args {
		sb.WriteString(stringify(arg))
	}
	return sb.String(), nil
}

func fnUppercase(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("uppercase takes exactly one argument")
	}
	return strings.ToUpper(stringify(args[0])), nil
}

func fnLowercase(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("lowercase takes exactly one argument")
	}
	return strings.ToLower(stringify(args[0])), nil
}

func fnTrim(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("trim takes exactly one argument")
	}
	return strings.TrimSpace(stringify(args[0])), nil
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
