package hostname

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "demo", "demo"},
		{"uppercase", "Demo.Example.COM", "demo.example.com"},
		{"protocol", "https://demo.example.com", "demo.example.com"},
		{"port", "demo.example.com:8080", "demo.example.com"},
		{"trailing slash", "demo.example.com/", "demo.example.com"},
		{"path", "http://demo.example.com/index.html", "demo.example.com"},
		{"whitespace", "  demo  ", "demo"},
		{"trailing dot", "demo.example.com.", "demo.example.com"},
		{"everything", "HTTP://Demo.Example.com:443/app/", "demo.example.com"},
		{"multi colon", "demo:8080:443", "demo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if err != nil {
				t.Fatalf("Normalize(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"demo", "HTTPS://Demo.App:8443/x", "a.b.c.", "x:1", "demo:8080:443", "a:b:c"}
	for _, in := range inputs {
		once, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q) error: %v", in, err)
		}
		twice, err := Normalize(once)
		if err != nil {
			t.Fatalf("Normalize(%q) error: %v", once, err)
		}
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestNormalizeEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "https://", "/", ":80"} {
		if got, err := Normalize(in); err == nil {
			t.Errorf("Normalize(%q) = %q, want ErrEmpty", in, got)
		}
	}
}
