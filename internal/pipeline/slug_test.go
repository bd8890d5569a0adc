package pipeline

import "testing"

func TestSlugify(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"The Pour Over Primer", "the-pour-over-primer"},
		{"Café au Lait: A Beginner's Guide", "cafe-au-lait-a-beginner-s-guide"},
		{"  Spaced   Out  ", "spaced-out"},
		{"100% Arabica!!", "100-arabica"},
		{"", ""},
	}
	for _, c := range cases {
		if got := slugify(c.in); got != c.want {
			t.Fatalf("slugify(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
