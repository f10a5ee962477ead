package selector

import "testing"

func TestLabelPredicateEquality(t *testing.T) {
	p := ParseLabelPredicate("env=prod,role=web")
	if !p.Matches(map[string]string{"env": "prod", "role": "web"}) {
		t.Error("expected match")
	}
	if p.Matches(map[string]string{"env": "staging", "role": "web"}) {
		t.Error("expected no match on differing env")
	}
}

func TestLabelPredicateNotEquals(t *testing.T) {
	p := ParseLabelPredicate("env!=prod")
	if p.Matches(map[string]string{"env": "prod"}) {
		t.Error("expected no match")
	}
	if !p.Matches(map[string]string{"env": "staging"}) {
		t.Error("expected match")
	}
	if !p.Matches(map[string]string{}) {
		t.Error("missing key should satisfy !=")
	}
}

func TestLabelPredicateInSet(t *testing.T) {
	p := ParseLabelPredicate("region in (us-east,us-west)")
	if !p.Matches(map[string]string{"region": "us-west"}) {
		t.Error("expected match")
	}
	if p.Matches(map[string]string{"region": "eu-west"}) {
		t.Error("expected no match")
	}
}

func TestLabelPredicateNotIn(t *testing.T) {
	p := ParseLabelPredicate("region notin (us-east,us-west)")
	if !p.Matches(map[string]string{"region": "eu-west"}) {
		t.Error("expected match")
	}
	if p.Matches(map[string]string{"region": "us-east"}) {
		t.Error("expected no match")
	}
}

func TestLabelPredicateHas(t *testing.T) {
	p := ParseLabelPredicate("has(owner)")
	if !p.Matches(map[string]string{"owner": "x"}) {
		t.Error("expected match")
	}
	if p.Matches(map[string]string{}) {
		t.Error("expected no match")
	}
}

func TestLabelPredicateNotHas(t *testing.T) {
	p := ParseLabelPredicate("!has(owner)")
	if p.Matches(map[string]string{"owner": "x"}) {
		t.Error("expected no match")
	}
	if !p.Matches(map[string]string{}) {
		t.Error("expected match")
	}
}

func TestLabelPredicateStringFuncs(t *testing.T) {
	p := ParseLabelPredicate("startswith(name,web)")
	if !p.Matches(map[string]string{"name": "web-01"}) {
		t.Error("expected startswith match")
	}

	p = ParseLabelPredicate("endswith(name,01)")
	if !p.Matches(map[string]string{"name": "web-01"}) {
		t.Error("expected endswith match")
	}

	p = ParseLabelPredicate("contains(name,eb-0)")
	if !p.Matches(map[string]string{"name": "web-01"}) {
		t.Error("expected contains match")
	}

	p = ParseLabelPredicate(`regex(name,web-\d+)`)
	if !p.Matches(map[string]string{"name": "web-01"}) {
		t.Error("expected regex match")
	}
	if p.Matches(map[string]string{"name": "db-01"}) {
		t.Error("expected regex non-match")
	}
}

func TestLabelPredicateLenAndCount(t *testing.T) {
	p := ParseLabelPredicate("len(name) > 3")
	if !p.Matches(map[string]string{"name": "web-01"}) {
		t.Error("expected len match")
	}
	if p.Matches(map[string]string{"name": "ab"}) {
		t.Error("expected len non-match")
	}

	p = ParseLabelPredicate("count(replicas) >= 3")
	if !p.Matches(map[string]string{"replicas": "5"}) {
		t.Error("expected count match")
	}
	if p.Matches(map[string]string{"replicas": "2"}) {
		t.Error("expected count non-match")
	}
}

func TestLabelPredicateNumericCompare(t *testing.T) {
	p := ParseLabelPredicate("cpu>4")
	if !p.Matches(map[string]string{"cpu": "8"}) {
		t.Error("expected numeric match")
	}
	if p.Matches(map[string]string{"cpu": "2"}) {
		t.Error("expected numeric non-match")
	}
	if p.Matches(map[string]string{"cpu": "not-a-number"}) {
		t.Error("non-numeric value should not match")
	}
}

func TestLabelPredicateNegationAndGrouping(t *testing.T) {
	p := ParseLabelPredicate("!(env=prod)")
	if p.Matches(map[string]string{"env": "prod"}) {
		t.Error("expected negated group to exclude prod")
	}
	if !p.Matches(map[string]string{"env": "staging"}) {
		t.Error("expected negated group to include staging")
	}
}

func TestLabelPredicateEmptyMatchesEverything(t *testing.T) {
	p := ParseLabelPredicate("")
	if !p.Matches(nil) {
		t.Error("expected empty predicate to match nil labels")
	}
	if !p.Empty() {
		t.Error("expected Empty() true for blank expression")
	}
}

func TestLabelPredicateUnparseableConditionIsFalse(t *testing.T) {
	p := ParseLabelPredicate("???not a real condition???")
	if p.Matches(map[string]string{"env": "prod"}) {
		t.Error("expected unparseable condition to evaluate to false, never error")
	}
}
