package transformer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnescape(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"Albert_Einstein", "Albert_Einstein"},
		{`"a\tb"`, "\"a\tb\""},
		{"Zu\u0308rich", "Z\u00fcrich"},
		{`\U0001F600`, "\U0001F600"},
		{`say \"hi\"`, `say "hi"`},
		{`back\\slash`, `back\slash`},
		{`bad\u12`, `bad\u12`},
		{`trailing\`, `trailing\`},
		{`keep\x`, `keep\x`},
		{"Zürich", "Zürich"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Unescape(tc.in), "Unescape(%q)", tc.in)
	}
}

func TestUnquote(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Berlin", Unquote(`"Berlin"`))
	assert.Equal(t, "Berlin", Unquote(`"Berlin"@eng`))
	assert.Equal(t, "12/3", Unquote(`"12/3"^^xsd:string`))
	assert.Equal(t, "Berlin", Unquote("Berlin"))
	assert.Equal(t, `"`, Unquote(`"`))
}

func TestRowPool_ReuseClearsFields(t *testing.T) {
	r := GetRow(3)
	r.F[0], r.F[1], r.F[2] = "a", "b", "c"
	r.Line = 7
	r.Free()

	r2 := GetRow(3)
	for i, f := range r2.F {
		assert.Empty(t, f, "field %d", i)
	}
	assert.Zero(t, r2.Line)
	assert.Len(t, r2.F, 3)
}
