// chmod_test.go -- chmod rule parsing and application
package meta

import (
	"testing"
)

func TestParseChmodOctal(t *testing.T) {
	rules, err := ParseChmod("D2775,F664")
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules", len(rules))
	}

	if got := ApplyChmod(rules, 0o777, true); got != 0o2775 {
		t.Fatalf("dir mode %o", got)
	}
	if got := ApplyChmod(rules, 0o777, false); got != 0o664 {
		t.Fatalf("file mode %o", got)
	}
}

func TestSymbolicChmod(t *testing.T) {
	tests := []struct {
		spec  string
		mode  uint32
		isDir bool
		want  uint32
	}{
		{"ug+w", 0o444, false, 0o664},
		{"o-rwx", 0o777, false, 0o770},
		{"a+r", 0o200, false, 0o644},
		{"u=rw", 0o777, false, 0o677},
		{"+x", 0o644, false, 0o755},
		{"Fo-x", 0o777, true, 0o777},
		{"g+s", 0o755, false, 0o2755},
		{"+t", 0o777, true, 0o1777},
	}
	for _, tx := range tests {
		rules, err := ParseChmod(tx.spec)
		if err != nil {
			t.Fatalf("%s: %s", tx.spec, err)
		}
		if got := ApplyChmod(rules, tx.mode, tx.isDir); got != tx.want {
			t.Fatalf("%s on %o: got %o want %o", tx.spec, tx.mode, got, tx.want)
		}
	}
}

func TestConditionalExecute(t *testing.T) {
	rules, err := ParseChmod("a+X")
	if err != nil {
		t.Fatal(err)
	}

	// not executable and not a dir: no x bits added
	if got := ApplyChmod(rules, 0o644, false); got != 0o644 {
		t.Fatalf("plain file gained x: %o", got)
	}
	// already executable somewhere: x added for all
	if got := ApplyChmod(rules, 0o744, false); got != 0o755 {
		t.Fatalf("executable file: %o", got)
	}
	// directories always gain x
	if got := ApplyChmod(rules, 0o644, true); got != 0o755 {
		t.Fatalf("dir: %o", got)
	}
}

func TestParseChmodErrors(t *testing.T) {
	for _, bad := range []string{"9999", "u~w", "uq+w", "u+q"} {
		if _, err := ParseChmod(bad); err == nil {
			t.Fatalf("%q parsed", bad)
		}
	}
}

func TestIDMap(t *testing.T) {
	m, err := ParseIDMap("0-99:1000,500:2000,*:65534", nil)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct{ in, want uint32 }{
		{0, 1000}, {99, 1000}, {500, 2000}, {777, 65534},
	}
	for _, tx := range tests {
		if got := m(tx.in); got != tx.want {
			t.Fatalf("map(%d) = %d, want %d", tx.in, got, tx.want)
		}
	}
}

func TestIDMapFirstRuleWins(t *testing.T) {
	m, err := ParseIDMap("5:100,5:200", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := m(5); got != 100 {
		t.Fatalf("map(5) = %d", got)
	}
}

func TestIDMapErrors(t *testing.T) {
	if _, err := ParseIDMap("nouser:10", nil); err == nil {
		t.Fatal("unknown name accepted without lookup")
	}
	if _, err := ParseIDMap("10", nil); err == nil {
		t.Fatal("missing colon accepted")
	}
}
