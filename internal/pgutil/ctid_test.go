package pgutil

import "testing"

func TestIsValidCtid(t *testing.T) {
	valid := []string{"(0,1)", "(123,45)", "(0,100)", " (1,2) "}
	for _, s := range valid {
		if !IsValidCtid(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}

	invalid := []string{
		"", "()", "(1)", "(1,2,3)", "(a,1)", "(1,b)",
		"1,2", "(1,2", "1,2)", "(-1,2)", "(1,-2)",
	}
	for _, s := range invalid {
		if IsValidCtid(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}
