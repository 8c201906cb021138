package postman

import "regexp"

// RuleKind names a validation constraint. The set of kinds is closed:
// rules can only be built through the constructors below, so an unknown
// kind always denotes a configuration error.
type RuleKind string

const (
	RuleType      RuleKind = "type"
	RuleMaxLength RuleKind = "maxlength"
	RuleMinLength RuleKind = "minlength"
	RuleMax       RuleKind = "max"
	RuleMin       RuleKind = "min"
	RulePattern   RuleKind = "pattern"
	RuleMatch     RuleKind = "match"
	RuleFunction  RuleKind = "function"
)

// Value types checked by the Type rule.
const (
	TypeEmail  = "email"
	TypeNumber = "number"
	TypeTel    = "tel"
	TypeURL    = "url"
)

// Rule is a single declarative constraint applied to a field value.
// Rules are evaluated in declaration order and each failing rule
// contributes its name to the error list.
type Rule struct {
	Kind RuleKind

	// name carries the type name for Type rules, the field name for
	// Match rules and the predicate name for Function rules.
	name string

	length  int
	bound   float64
	pattern *regexp.Regexp
}

// Name returns the rule name used as error message key.
func (r Rule) Name() string {
	return string(r.Kind)
}

// Type constrains the value to a syntactic type: email, number, tel
// or url. Email addresses must also use a domain with a resolvable MX
// or address record.
func Type(name string) Rule {
	return Rule{Kind: RuleType, name: name}
}

// MaxLength constrains the value to at most n characters (not bytes).
func MaxLength(n int) Rule {
	return Rule{Kind: RuleMaxLength, length: n}
}

// MinLength constrains the value to at least n characters (not bytes).
func MinLength(n int) Rule {
	return Rule{Kind: RuleMinLength, length: n}
}

// Max constrains the value to a numeric upper bound, inclusive.
// Non-numeric values fail the rule.
func Max(bound float64) Rule {
	return Rule{Kind: RuleMax, bound: bound}
}

// Min constrains the value to a numeric lower bound, inclusive.
// Non-numeric values fail the rule.
func Min(bound float64) Rule {
	return Rule{Kind: RuleMin, bound: bound}
}

// Pattern constrains the value to match a regular expression. The
// expression must compile; an invalid expression is a programming error
// in the form definition.
func Pattern(expr string) Rule {
	return Rule{Kind: RulePattern, pattern: regexp.MustCompile(expr)}
}

// MatchField constrains the value to equal the current value of another
// named field in the same submission. A missing comparison field fails
// the rule.
func MatchField(name string) Rule {
	return Rule{Kind: RuleMatch, name: name}
}

// Function delegates the check to a named predicate registered on the
// form. An unregistered predicate name is a configuration error and
// fails the rule.
func Function(name string) Rule {
	return Rule{Kind: RuleFunction, name: name}
}
