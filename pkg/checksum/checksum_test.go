package checksum

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum_Deterministic(t *testing.T) {
	a := Sum([]byte("state"))
	b := Sum([]byte("state"))
	c := Sum([]byte("state2"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.False(t, a.IsZero())
}

func TestOfJSON_MapOrderIndependent(t *testing.T) {
	a, err := OfJSON(map[string]any{"a": 1, "b": []string{"x"}})
	require.NoError(t, err)
	b, err := OfJSON(map[string]any{"b": []string{"x"}, "a": 1})
	require.NoError(t, err)

	assert.Equal(t, a, b)

	_, err = OfJSON(make(chan int))
	assert.Error(t, err)
}

func TestParse_RoundTrip(t *testing.T) {
	d := Sum([]byte("state"))

	s := d.String()
	assert.True(t, strings.HasPrefix(s, Prefix))
	assert.Len(t, s, len(Prefix)+64)

	parsed, err := Parse(s)
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
}

func TestParse_Errors(t *testing.T) {
	for _, s := range []string{"", "sha256:00", Prefix + "zz", Prefix + "abcd"} {
		_, err := Parse(s)
		assert.Error(t, err, s)
	}
}

func TestVerify(t *testing.T) {
	data := []byte(`{"id":"s1"}`)
	want := Sum(data).String()

	assert.True(t, Verify(data, want))
	assert.False(t, Verify([]byte(`{"id":"s2"}`), want))
	assert.False(t, Verify(data, "garbage"))
}
