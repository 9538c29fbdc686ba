package event

import (
	"strings"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/pkg/timeutil"
	"github.com/shopspring/decimal"
)

const domainName = "event"

// ══════════════════════════════════════════════════════════════════════════════
// PARAMETERS
// ══════════════════════════════════════════════════════════════════════════════

// Parameter names the live fact a condition is evaluated against.
type Parameter string

const (
	// ParameterBank is the sum of all participation amounts.
	ParameterBank Parameter = "bank"
	// ParameterPeople is the number of participations.
	ParameterPeople Parameter = "people"
	// ParameterTime is the wall clock.
	ParameterTime Parameter = "time"
)

// AllParameters lists every parameter in evaluation order.
var AllParameters = []Parameter{ParameterBank, ParameterPeople, ParameterTime}

// IsValid reports whether p is a known parameter.
func (p Parameter) IsValid() bool {
	switch p {
	case ParameterBank, ParameterPeople, ParameterTime:
		return true
	default:
		return false
	}
}

// IsNumeric reports whether the parameter's threshold is a number.
func (p Parameter) IsNumeric() bool {
	return p == ParameterBank || p == ParameterPeople
}

// String returns the stored representation.
func (p Parameter) String() string {
	return string(p)
}

// ParseParameter parses a stored parameter name.
func ParseParameter(s string) (Parameter, error) {
	p := Parameter(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", shared.UnknownValue(domainName, "ParseParameter", "parameter", s)
	}
	return p, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// OPERATORS
// ══════════════════════════════════════════════════════════════════════════════

// Operator is a comparison between a live fact and a stored threshold.
type Operator string

const (
	OperatorGreaterEquals Operator = "GREATER_EQUALS"
	OperatorLessEquals    Operator = "LESS_EQUALS"
	OperatorEquals        Operator = "EQUALS"
	OperatorGreater       Operator = "GREATER"
	OperatorLess          Operator = "LESS"
)

// IsValid reports whether o is a known operator.
func (o Operator) IsValid() bool {
	switch o {
	case OperatorGreaterEquals, OperatorLessEquals, OperatorEquals, OperatorGreater, OperatorLess:
		return true
	default:
		return false
	}
}

// String returns the stored representation.
func (o Operator) String() string {
	return string(o)
}

// ParseOperator accepts either the stored operator name or its symbol.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GREATER_EQUALS", ">=":
		return OperatorGreaterEquals, nil
	case "LESS_EQUALS", "<=":
		return OperatorLessEquals, nil
	case "EQUALS", "=", "==":
		return OperatorEquals, nil
	case "GREATER", ">":
		return OperatorGreater, nil
	case "LESS", "<":
		return OperatorLess, nil
	default:
		return "", shared.UnknownValue(domainName, "ParseOperator", "operator", s)
	}
}

// Satisfies compares a numeric fact against a threshold. The comparison is
// exact; an unknown operator is an error rather than a false result.
func Satisfies(op Operator, actual, threshold decimal.Decimal) (bool, error) {
	cmp := actual.Cmp(threshold)
	switch op {
	case OperatorGreaterEquals:
		return cmp >= 0, nil
	case OperatorLessEquals:
		return cmp <= 0, nil
	case OperatorEquals:
		return cmp == 0, nil
	case OperatorGreater:
		return cmp > 0, nil
	case OperatorLess:
		return cmp < 0, nil
	default:
		return false, shared.UnknownValue(domainName, "Satisfies", "operator", string(op))
	}
}

// SatisfiesTime compares the current instant against a time threshold.
// EQUALS means the threshold has been reached: a periodic sweep never observes
// an exact instant, so equality is treated as now >= threshold.
func SatisfiesTime(op Operator, now, threshold time.Time) (bool, error) {
	switch op {
	case OperatorGreaterEquals, OperatorEquals:
		return !now.Before(threshold), nil
	case OperatorGreater:
		return now.After(threshold), nil
	case OperatorLessEquals:
		return !now.After(threshold), nil
	case OperatorLess:
		return now.Before(threshold), nil
	default:
		return false, shared.UnknownValue(domainName, "SatisfiesTime", "operator", string(op))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// THRESHOLDS
// ══════════════════════════════════════════════════════════════════════════════

// NormalizeNumeric sanitizes a raw numeric threshold at ingestion time: every
// non-digit is dropped, then leading zeros. An empty result becomes "0".
func NormalizeNumeric(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	out := strings.TrimLeft(b.String(), "0")
	if out == "" {
		return "0"
	}
	return out
}

// ParseNumericThreshold parses a stored numeric threshold exactly.
func ParseNumericThreshold(value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, shared.WrapError(domainName, "ParseNumericThreshold", shared.ErrValidation,
			"malformed numeric threshold \""+value+"\"", shared.ErrInvalidFormat)
	}
	return d, nil
}

// ParseTimeThreshold parses a stored ISO-8601 time threshold.
func ParseTimeThreshold(value string) (time.Time, error) {
	t, err := timeutil.ParseTimestamp(value)
	if err != nil {
		return time.Time{}, shared.WrapError(domainName, "ParseTimeThreshold", shared.ErrValidation,
			"malformed time threshold", err)
	}
	return t, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONDITION
// ══════════════════════════════════════════════════════════════════════════════

// Condition is one atomic predicate over a live fact. IsCompleted only ever
// moves from false to true.
type Condition struct {
	ID          string
	GroupID     string
	Parameter   Parameter
	Operator    Operator
	Value       string
	IsCompleted bool
}

// Facts is a snapshot of the live values conditions are evaluated against.
type Facts struct {
	Bank   decimal.Decimal
	People int64
	Now    time.Time
}

// NewCondition validates the enums and the threshold. Numeric thresholds are
// normalized here, once.
func NewCondition(param, op, rawValue string) (*Condition, error) {
	p, err := ParseParameter(param)
	if err != nil {
		return nil, err
	}
	o, err := ParseOperator(op)
	if err != nil {
		return nil, err
	}

	value := strings.TrimSpace(rawValue)
	switch p {
	case ParameterBank, ParameterPeople:
		value = NormalizeNumeric(value)
	case ParameterTime:
		t, err := ParseTimeThreshold(value)
		if err != nil {
			return nil, err
		}
		value = timeutil.FormatTimestamp(t)
	}

	return &Condition{
		ID:        shared.NewID(),
		Parameter: p,
		Operator:  o,
		Value:     value,
	}, nil
}

// IsDeadline reports whether the condition is an upper time bound. A deadline
// holds while now is before its threshold; it gates completion rather than
// driving it.
func (c *Condition) IsDeadline() bool {
	return c.Parameter == ParameterTime &&
		(c.Operator == OperatorLess || c.Operator == OperatorLessEquals)
}

// Evaluate checks the condition against the facts.
func (c *Condition) Evaluate(f Facts) (bool, error) {
	switch c.Parameter {
	case ParameterBank:
		threshold, err := ParseNumericThreshold(c.Value)
		if err != nil {
			return false, err
		}
		return Satisfies(c.Operator, f.Bank, threshold)
	case ParameterPeople:
		threshold, err := ParseNumericThreshold(c.Value)
		if err != nil {
			return false, err
		}
		return Satisfies(c.Operator, decimal.NewFromInt(f.People), threshold)
	case ParameterTime:
		threshold, err := ParseTimeThreshold(c.Value)
		if err != nil {
			return false, err
		}
		return SatisfiesTime(c.Operator, f.Now, threshold)
	default:
		return false, shared.UnknownValue(domainName, "Evaluate", "parameter", string(c.Parameter))
	}
}

// Expired reports whether a deadline condition can no longer hold at now.
func (c *Condition) Expired(now time.Time) (bool, error) {
	if !c.IsDeadline() {
		return false, nil
	}
	ok, err := c.Evaluate(Facts{Now: now})
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// MarkCompleted flips the condition to completed. It reports whether the
// flag changed.
func (c *Condition) MarkCompleted() bool {
	if c.IsCompleted {
		return false
	}
	c.IsCompleted = true
	return true
}
