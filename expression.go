package shardroute

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Knetic/govaluate"
	"gorm/shardroute/util/str"
)

// ruleFunctions 规则表达式可用的函数
var ruleFunctions = map[string]govaluate.ExpressionFunction{
	"parse": func(args ...interface{}) (interface{}, error) {
		return str.Concat(args...), nil
	},
	"hashcode": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, errors.New("hashcode expects one argument")
		}
		return int64(str.Hashcode(str.Concat(args[0]))), nil
	},
	"hashmod": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, errors.New("hashmod expects two arguments")
		}
		n, ok := args[1].(int64)
		if !ok || n <= 0 || n > math.MaxInt32 {
			return nil, errors.New("hashmod expects a positive int32 modulus")
		}
		return int64(str.HashMode(str.Concat(args[0]), int32(n))), nil
	},
	"mod": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, errors.New("mod expects two arguments")
		}
		a, aok := args[0].(int64)
		b, bok := args[1].(int64)
		if !aok || !bok {
			return nil, errors.New("mod expects integer arguments")
		}
		if b == 0 {
			return nil, &evalError{cause: errDivisionByZero}
		}
		return a % b, nil
	},
	"abs": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, errors.New("abs expects one argument")
		}
		a, ok := args[0].(int64)
		if !ok {
			return nil, errors.New("abs expects an integer argument")
		}
		if a < 0 {
			return -a, nil
		}
		return a, nil
	},
}

// Expression a compiled rule expression. Immutable, safe to share.
type Expression struct {
	source string
	tokens []govaluate.ExpressionToken
	vars   []string
}

// Vars variables referenced by the expression
func (e *Expression) Vars() []string {
	return e.vars
}

func (e *Expression) String() string {
	return e.source
}

// Eval evaluates the expression with keyName bound to key. Arithmetic is
// done on int64; "+" concatenates when either side is a string.
func (e *Expression) Eval(keyName string, key int64) (string, error) {
	s := &evalState{tokens: e.tokens, keyName: keyName, key: key}
	v, err := s.expr()
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrRuleEvaluation, e.source, err)
	}
	if s.pos < len(s.tokens) {
		return "", fmt.Errorf("%w: %q: unexpected token %v", ErrRuleEvaluation, e.source, s.tokens[s.pos].Value)
	}
	result, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q: result %v is not a string", ErrRuleEvaluation, e.source, v)
	}
	return result, nil
}

// Evaluator compiles rule expressions once and reuses them.
type Evaluator struct {
	compiled sync.Map
}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Compile parses expression, cached by its source text.
func (ev *Evaluator) Compile(expression string) (*Expression, error) {
	if v, ok := ev.compiled.Load(expression); ok {
		return v.(*Expression), nil
	}
	parsed, err := govaluate.NewEvaluableExpressionWithFunctions(expression, ruleFunctions)
	if err != nil {
		return nil, fmt.Errorf("%w: compile %q: %v", ErrRuleEvaluation, expression, err)
	}
	tokens := parsed.Tokens()
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty expression", ErrRuleEvaluation)
	}
	e := &Expression{source: expression, tokens: tokens, vars: parsed.Vars()}
	actual, _ := ev.compiled.LoadOrStore(expression, e)
	return actual.(*Expression), nil
}

// Validate compiles expression and checks it only references keyName.
func (ev *Evaluator) Validate(expression, keyName string) error {
	e, err := ev.Compile(expression)
	if err != nil {
		return err
	}
	for _, v := range e.vars {
		if v != keyName {
			return fmt.Errorf("%w: %q: unknown variable %s", ErrRuleEvaluation, expression, v)
		}
	}
	// a trial run catches non-string results and unsupported operators
	if _, err = e.Eval(keyName, 0); isDivisionByZero(err) {
		return nil
	}
	return err
}

// Evaluate computes the shard identifier for key.
func (ev *Evaluator) Evaluate(expression, keyName string, key int64) (string, error) {
	e, err := ev.Compile(expression)
	if err != nil {
		return "", err
	}
	return e.Eval(keyName, key)
}

var errDivisionByZero = errors.New("division by zero")

func isDivisionByZero(err error) bool {
	var target *evalError
	return errors.As(err, &target) && target.cause == errDivisionByZero
}

type evalError struct {
	cause error
}

func (e *evalError) Error() string {
	return e.cause.Error()
}

// evalState 递归下降求值
type evalState struct {
	tokens  []govaluate.ExpressionToken
	pos     int
	keyName string
	key     int64
}

func (s *evalState) peek() (govaluate.ExpressionToken, bool) {
	if s.pos >= len(s.tokens) {
		return govaluate.ExpressionToken{}, false
	}
	return s.tokens[s.pos], true
}

func (s *evalState) modifier(symbols ...string) (string, bool) {
	tok, ok := s.peek()
	if !ok || tok.Kind != govaluate.MODIFIER {
		return "", false
	}
	op, _ := tok.Value.(string)
	for _, sym := range symbols {
		if op == sym {
			s.pos++
			return op, true
		}
	}
	return "", false
}

func (s *evalState) expr() (interface{}, error) {
	left, err := s.term()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := s.modifier("+", "-")
		if !ok {
			return left, nil
		}
		right, err := s.term()
		if err != nil {
			return nil, err
		}
		if left, err = apply(op, left, right); err != nil {
			return nil, err
		}
	}
}

func (s *evalState) term() (interface{}, error) {
	left, err := s.unary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := s.modifier("*", "/", "%")
		if !ok {
			return left, nil
		}
		right, err := s.unary()
		if err != nil {
			return nil, err
		}
		if left, err = apply(op, left, right); err != nil {
			return nil, err
		}
	}
}

func (s *evalState) unary() (interface{}, error) {
	tok, ok := s.peek()
	if ok && tok.Kind == govaluate.PREFIX {
		if tok.Value != "-" {
			return nil, fmt.Errorf("unsupported prefix %v", tok.Value)
		}
		s.pos++
		v, err := s.unary()
		if err != nil {
			return nil, err
		}
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("cannot negate %q", v)
		}
		return -n, nil
	}
	return s.primary()
}

// maxExactLiteral 2^53, the first integer float64 cannot tell apart from its successor
const maxExactLiteral = 1 << 53

func (s *evalState) primary() (interface{}, error) {
	tok, ok := s.peek()
	if !ok {
		return nil, errors.New("unexpected end of expression")
	}
	s.pos++
	switch tok.Kind {
	case govaluate.NUMERIC:
		f := tok.Value.(float64)
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("non-integer literal %v", f)
		}
		// the lexer hands literals over as float64
		if math.Abs(f) >= maxExactLiteral {
			return nil, fmt.Errorf("literal %v exceeds %d", f, int64(maxExactLiteral))
		}
		return int64(f), nil
	case govaluate.STRING:
		return tok.Value.(string), nil
	case govaluate.VARIABLE:
		name := tok.Value.(string)
		if name != s.keyName {
			return nil, fmt.Errorf("unknown variable %s", name)
		}
		return s.key, nil
	case govaluate.CLAUSE:
		v, err := s.expr()
		if err != nil {
			return nil, err
		}
		if err := s.expect(govaluate.CLAUSE_CLOSE); err != nil {
			return nil, err
		}
		return v, nil
	case govaluate.FUNCTION:
		return s.call(tok.Value.(govaluate.ExpressionFunction))
	}
	return nil, fmt.Errorf("unsupported token %v (%v)", tok.Value, tok.Kind)
}

func (s *evalState) call(fn govaluate.ExpressionFunction) (interface{}, error) {
	if err := s.expect(govaluate.CLAUSE); err != nil {
		return nil, err
	}
	var args []interface{}
	if tok, ok := s.peek(); ok && tok.Kind == govaluate.CLAUSE_CLOSE {
		s.pos++
	} else {
		for {
			arg, err := s.expr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			tok, ok := s.peek()
			if !ok {
				return nil, errors.New("unclosed function call")
			}
			s.pos++
			if tok.Kind == govaluate.CLAUSE_CLOSE {
				break
			}
			if tok.Kind != govaluate.SEPARATOR {
				return nil, fmt.Errorf("unexpected token %v in arguments", tok.Value)
			}
		}
	}
	v, err := fn(args...)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case string, int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	}
	return nil, fmt.Errorf("unsupported function result %v", v)
}

func (s *evalState) expect(kind govaluate.TokenKind) error {
	tok, ok := s.peek()
	if !ok || tok.Kind != kind {
		return fmt.Errorf("expected %v", kind)
	}
	s.pos++
	return nil
}

func apply(op string, left, right interface{}) (interface{}, error) {
	_, ls := left.(string)
	_, rs := right.(string)
	if op == "+" && (ls || rs) {
		return str.Concat(left, right), nil
	}
	a, aok := left.(int64)
	b, bok := right.(int64)
	if !aok || !bok {
		return nil, fmt.Errorf("operator %s needs integers, got %v and %v", op, left, right)
	}
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return nil, &evalError{cause: errDivisionByZero}
		}
		return a / b, nil
	case "%":
		if b == 0 {
			return nil, &evalError{cause: errDivisionByZero}
		}
		return a % b, nil
	}
	return nil, fmt.Errorf("unsupported operator %s", op)
}
