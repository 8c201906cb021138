package postman

import (
	"context"
	"errors"
	"net"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fakeResolver answers DNS lookups from fixed maps.
type fakeResolver struct {
	mx    map[string][]*net.MX
	hosts map[string][]string
}

func (r *fakeResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	mx, ok := r.mx[name]
	if !ok {
		return nil, errors.New("no mx records")
	}
	return mx, nil
}

func (r *fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	hosts, ok := r.hosts[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return hosts, nil
}

func newTestValidator() *RuleValidator {
	return NewRuleValidator(WithResolver(&fakeResolver{
		mx: map[string][]*net.MX{
			"example.com": {{Host: "mail.example.com"}},
		},
		hosts: map[string][]string{
			"fallback.example": {"192.0.2.1"},
		},
	}))
}

func evaluate(t *testing.T, value string, rules ...Rule) []string {
	t.Helper()

	failed, err := newTestValidator().Evaluate(value, rules, url.Values{}, nil)
	if err != nil {
		t.Fatalf("unexpected configuration error: %v", err)
	}

	return failed
}

func TestEmailRequiresResolvableDomain(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"someone@example.com", true},
		{"someone@fallback.example", true}, // no MX but an address record
		{"someone@unknown.example", false},
		{"not-an-email", false},
		{"Someone <someone@example.com>", false}, // display names are not addresses
		{"", false},
	}

	for _, tt := range tests {
		failed := evaluate(t, tt.value, Type(TypeEmail))
		if ok := len(failed) == 0; ok != tt.ok {
			t.Errorf("email %q: got valid=%v, want %v", tt.value, ok, tt.ok)
		}
	}
}

func TestNumberAndTelTypes(t *testing.T) {
	if failed := evaluate(t, "12.5", Type(TypeNumber)); len(failed) != 0 {
		t.Errorf("12.5 should be a valid number, failed %v", failed)
	}
	if failed := evaluate(t, "12x", Type(TypeNumber)); len(failed) == 0 {
		t.Error("12x should not be a valid number")
	}

	if failed := evaluate(t, "01234,567.89", Type(TypeTel)); len(failed) != 0 {
		t.Errorf("digits with separators should be a valid tel, failed %v", failed)
	}
	if failed := evaluate(t, "+441234567", Type(TypeTel)); len(failed) == 0 {
		t.Error("leading plus is outside the tel character set")
	}
}

func TestURLTypeNeedsSchemeAndHost(t *testing.T) {
	if failed := evaluate(t, "https://example.com/page", Type(TypeURL)); len(failed) != 0 {
		t.Errorf("absolute url should pass, failed %v", failed)
	}
	if failed := evaluate(t, "example.com/page", Type(TypeURL)); len(failed) == 0 {
		t.Error("url without scheme should fail")
	}
}

func TestLengthRulesCountRunes(t *testing.T) {
	// "héllo" is 5 characters but 6 bytes
	if failed := evaluate(t, "héllo", MaxLength(5)); len(failed) != 0 {
		t.Errorf("5 runes within maxlength 5, failed %v", failed)
	}
	if failed := evaluate(t, "héllo", MaxLength(4)); len(failed) == 0 {
		t.Error("5 runes should exceed maxlength 4")
	}
	if failed := evaluate(t, "héll", MinLength(5)); len(failed) == 0 {
		t.Error("4 runes should fail minlength 5")
	}
}

func TestNumericBoundsFailOnNonNumericValues(t *testing.T) {
	if failed := evaluate(t, "10", Max(10)); len(failed) != 0 {
		t.Errorf("bound is inclusive, failed %v", failed)
	}
	if failed := evaluate(t, "11", Max(10)); len(failed) == 0 {
		t.Error("11 should exceed max 10")
	}
	if failed := evaluate(t, "abc", Max(10)); len(failed) == 0 {
		t.Error("non-numeric value should fail a max rule")
	}
	if failed := evaluate(t, "abc", Min(1)); len(failed) == 0 {
		t.Error("non-numeric value should fail a min rule")
	}
}

func TestMatchComparesLoosely(t *testing.T) {
	data := url.Values{"price": {"10.0"}, "other": {"text"}}

	failed, err := newTestValidator().Evaluate("10", []Rule{MatchField("price")}, data, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("10 should match 10.0 numerically, failed %v", failed)
	}

	failed, _ = newTestValidator().Evaluate("10", []Rule{MatchField("other")}, data, nil)
	if len(failed) == 0 {
		t.Error("10 should not match a non-numeric different value")
	}

	failed, _ = newTestValidator().Evaluate("10", []Rule{MatchField("missing")}, data, nil)
	if len(failed) == 0 {
		t.Error("a missing comparison field should fail the rule")
	}
}

func TestFunctionRuleUsesRegisteredPredicate(t *testing.T) {
	predicates := map[string]Predicate{
		"accept": func(value string, data url.Values) bool { return value == "yes" },
	}

	failed, err := newTestValidator().Evaluate("yes", []Rule{Function("accept")}, url.Values{}, predicates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("predicate accepted the value, failed %v", failed)
	}

	failed, err = newTestValidator().Evaluate("yes", []Rule{Function("unknown")}, url.Values{}, predicates)
	if err == nil {
		t.Error("unregistered predicate should report a configuration error")
	}
	if len(failed) == 0 {
		t.Error("unregistered predicate must also fail the rule")
	}
}

func TestFailedRulesKeepDeclarationOrder(t *testing.T) {
	rules := []Rule{MinLength(10), Pattern(`^[a-z]+$`), MaxLength(1)}

	failed, err := newTestValidator().Evaluate("abc123", rules, url.Values{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"minlength", "pattern", "maxlength"}
	if diff := cmp.Diff(want, failed); diff != "" {
		t.Errorf("failed rules mismatch (-want +got):\n%s", diff)
	}
}
