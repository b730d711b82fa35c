package config

// Compare applies a condition operator to two numbers.
func Compare(actual float64, op string, expected float64) bool {
	switch op {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected
	case "==":
		return actual == expected
	case "!=":
		return actual != expected
	}
	return false
}

// CompareStrings applies == or != to two strings; other operators are false.
func CompareStrings(actual, op, expected string) bool {
	switch op {
	case "==":
		return actual == expected
	case "!=":
		return actual != expected
	}
	return false
}
