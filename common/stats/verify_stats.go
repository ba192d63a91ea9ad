package stats

import (
	"bytes"
	"fmt"
	"testing"
)

/*
Utilities for validating the stats registry contents
*/
type RuleChecker struct {
	name    string
	checker func(got, expected interface{}) bool
}

/*
passes if the stat is an int64 equal to the expected int
*/
func int64EqTest(got, expected interface{}) bool {
	g, ok := got.(int64)
	if !ok {
		return false
	}
	return g == int64(expected.(int))
}

var Int64EqTest = RuleChecker{name: "Int64EqTest", checker: int64EqTest}

/*
passes if the stat is an int64 greater than the expected int
*/
func int64GTTest(got, expected interface{}) bool {
	g, ok := got.(int64)
	if !ok {
		return false
	}
	return g > int64(expected.(int))
}

var Int64GTTest = RuleChecker{name: "Int64GTTest", checker: int64GTTest}

func doesNotExistTest(got, expected interface{}) bool {
	return got == nil
}

var DoesNotExistTest = RuleChecker{name: "DoesNotExistTest", checker: doesNotExistTest}

/*
defines the condition checker to use to validate the measurement.
*/
type Rule struct {
	Checker RuleChecker
	Value   interface{}
}

/*
Verify that the receiver's registry contains values for the keys in contains and that
each entry conforms to the rule associated with that key. Only finagle style registries
can be verified.
*/
func VerifyStats(t *testing.T, stat StatsReceiver, contains map[string]Rule) {
	t.Helper()
	reg, ok := stat.Registry().(*finagleStatsRegistry)
	if !ok {
		t.Errorf("cannot verify stats of a %T registry", stat.Registry())
		return
	}

	asJson := reg.MarshalAll()
	var msg bytes.Buffer
	failed := false
	for key, rule := range contains {
		got := asJson[key]
		if rule.Checker.checker(got, rule.Value) {
			continue
		}
		failed = true
		if rule.Checker.name == DoesNotExistTest.name {
			msg.WriteString(fmt.Sprintf("%s: found stat entry when there should not be one\n", key))
		} else {
			msg.WriteString(fmt.Sprintf("%s: got %v, expected to pass %s with %v\n", key, got, rule.Checker.name, rule.Value))
		}
	}
	if failed {
		pretty, _ := reg.MarshalJSONPretty()
		t.Errorf("stats registry error:\n%s%s", msg.String(), pretty)
	}
}
