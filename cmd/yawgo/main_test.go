package main

import "testing"

func TestWebPortFlagDefault(t *testing.T) {
	f := &webPortFlag{defaultPort: 8080}
	if err := f.Set(""); err != nil {
		t.Fatalf("Set(\"\") returned error: %v", err)
	}
	if f.port() != 8080 {
		t.Errorf("expected default port 8080, got %d", f.port())
	}
}

func TestWebPortFlagCustom(t *testing.T) {
	f := &webPortFlag{defaultPort: 8080}
	if err := f.Set("8980"); err != nil {
		t.Fatalf("Set(\"8980\") returned error: %v", err)
	}
	if f.port() != 8980 {
		t.Errorf("expected port 8980, got %d", f.port())
	}
}

func TestWebPortFlagInvalid(t *testing.T) {
	cases := []string{"abc", "-1", "0", "70000"}
	for _, c := range cases {
		f := &webPortFlag{defaultPort: 8080}
		if err := f.Set(c); err == nil {
			t.Errorf("Set(%q) should have returned an error", c)
		}
	}
}

func TestWebPortFlagString(t *testing.T) {
	f := &webPortFlag{defaultPort: 8080}
	if f.String() != "0" {
		t.Errorf("unset flag String() = %q, want \"0\"", f.String())
	}
	f.Set("9000")
	if f.String() != "9000" {
		t.Errorf("String() = %q, want \"9000\"", f.String())
	}
}
