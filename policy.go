package shardroute

// RuleEvaluator evaluates a rule expression for one key value.
type RuleEvaluator interface {
	Evaluate(expression, keyName string, key int64) (string, error)
}

var _ RuleEvaluator = (*Evaluator)(nil)
