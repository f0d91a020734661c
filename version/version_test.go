package version

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

type parts struct {
	Major, Minor, Micro int
	Qualifier           string
}

func toParts(v Version) parts {
	return parts{Major: v.Major(), Minor: v.Minor(), Micro: v.Micro(), Qualifier: v.Qualifier()}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    parts
		wantErr bool
	}{
		{name: "Success: empty is zero", in: "", want: parts{}},
		{name: "Success: major only", in: "5", want: parts{Major: 5}},
		{name: "Success: major.minor", in: "4.1", want: parts{Major: 4, Minor: 1}},
		{name: "Success: major.minor.micro", in: "5.2.7", want: parts{Major: 5, Minor: 2, Micro: 7}},
		{name: "Success: with qualifier", in: "8.1.3.rc-1_b", want: parts{Major: 8, Minor: 1, Micro: 3, Qualifier: "rc-1_b"}},
		{name: "Error: trailing dot", in: "4.", wantErr: true},
		{name: "Error: leading dot", in: ".4", wantErr: true},
		{name: "Error: not a number", in: "four.one", wantErr: true},
		{name: "Error: negative", in: "-1.0", wantErr: true},
		{name: "Error: plus sign", in: "+1.0", wantErr: true},
		{name: "Error: empty qualifier", in: "1.2.3.", wantErr: true},
		{name: "Error: bad qualifier", in: "1.2.3.r c", wantErr: true},
		{name: "Error: qualifier with dot", in: "1.2.3.a.b", wantErr: true},
		{name: "Error: garbage", in: "not a version", wantErr: true},
	}

	for _, test := range tests {
		got, err := Parse(test.in)
		switch {
		case err == nil && test.wantErr:
			t.Errorf("[TestParse(%s)]: got err == nil, want err != nil", test.name)
			continue
		case err != nil && !test.wantErr:
			t.Errorf("[TestParse(%s)]: got err == %s, want err == nil", test.name, err)
			continue
		case err != nil:
			continue
		}

		if diff := pretty.Compare(test.want, toParts(got)); diff != "" {
			t.Errorf("[TestParse(%s)]: -want +got:\n%s", test.name, diff)
		}
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "0.0"},
		{"4.1", "4.1"},
		{"5", "5.0"},
		{"5.2.0", "5.2"},
		{"5.2.1", "5.2.1"},
		{"5.2.0.beta", "5.2.0.beta"},
	}

	for _, test := range tests {
		got := MustParse(test.in).String()
		if got != test.want {
			t.Errorf("[TestString(%q)]: got %q, want %q", test.in, got, test.want)
		}
		// The printed form must parse back to the same value.
		if !MustParse(got).Equal(MustParse(test.in)) {
			t.Errorf("[TestString(%q)]: %q does not parse back to the same version", test.in, got)
		}
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{name: "equal", a: "4.1", b: "4.1.0", want: 0},
		{name: "major", a: "4.9", b: "5.0", want: -1},
		{name: "minor", a: "5.3", b: "5.2", want: 1},
		{name: "micro", a: "5.2.1", b: "5.2.2", want: -1},
		{name: "qualifier", a: "5.2.1.b", b: "5.2.1.a", want: 1},
		{name: "empty qualifier first", a: "5.2.1", b: "5.2.1.a", want: -1},
	}

	for _, test := range tests {
		a, b := MustParse(test.a), MustParse(test.b)
		if got := a.Compare(b); got != test.want {
			t.Errorf("[TestCompare(%s)]: got %d, want %d", test.name, got, test.want)
		}
		if got := b.Compare(a); got != -test.want {
			t.Errorf("[TestCompare(%s)]: reversed: got %d, want %d", test.name, got, -test.want)
		}
		if got := a.Less(b); got != (test.want < 0) {
			t.Errorf("[TestCompare(%s)]: Less() got %v", test.name, got)
		}
	}
}

func TestNew(t *testing.T) {
	if _, err := New(1, -1, 0, ""); err == nil {
		t.Errorf("[TestNew]: negative component: got err == nil, want err != nil")
	}
	if _, err := New(1, 0, 0, "a b"); err == nil {
		t.Errorf("[TestNew]: bad qualifier: got err == nil, want err != nil")
	}
	v, err := New(4, 1, 0, "")
	if err != nil {
		t.Fatalf("[TestNew]: got err == %s, want err == nil", err)
	}
	if !v.Equal(MustParse("4.1")) {
		t.Errorf("[TestNew]: got %s, want 4.1", v)
	}
}
