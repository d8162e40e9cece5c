package normalize

import "testing"

func TestNormalizers(t *testing.T) {
	tests := []struct {
		name string
		fn   func(string) string
		in   string
		want string
	}{
		{"email lowercases", Email, "  Alice@Example.COM ", "alice@example.com"},
		{"email empty", Email, "   ", ""},
		{"name keeps case", Name, "\tAlice Smith\n", "Alice Smith"},
		{"status", Status, " Disabled ", "disabled"},
		{"role", Role, "ADMIN", "admin"},
		{"permission", Permission, " Write ", "write"},
		{"query collapses spaces", QueryParam, "  annual   report ", "annual report"},
		{"query tabs", QueryParam, "q3\tplan", "q3 plan"},
		{"query empty", QueryParam, " \t ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
