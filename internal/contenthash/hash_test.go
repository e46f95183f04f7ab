package contenthash

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute_StableUnderWhitespaceNoise(t *testing.T) {
	a := Compute("td_notices", "Traffic  disruption", "Road closure")
	b := Compute("td_notices", "traffic disruption", "road   closure")
	assert.Equal(t, a, b)
}

func TestCompute_StableUnderMarkupNoise(t *testing.T) {
	a := Compute("td_notices", "<b>Road</b> closed", "Until &amp; after 6pm")
	b := Compute("td_notices", "road closed", "until & after 6pm")
	assert.Equal(t, a, b)
}

func TestCompute_SeparatesSources(t *testing.T) {
	a := Compute("td_notices", "Typhoon", "Signal No. 8")
	b := Compute("hko_warn", "Typhoon", "Signal No. 8")
	assert.NotEqual(t, a, b)
}

func TestCompute_DistinguishesTitleFromBody(t *testing.T) {
	assert.NotEqual(t, Compute("s", "a b", "c"), Compute("s", "a", "b c"))
}

func TestCompute_Shape(t *testing.T) {
	id := Compute("td_notices", "Road closed on Nathan Road", "Maintenance work until 6pm")
	require.True(t, strings.HasPrefix(id, "td_notices_"))
	assert.Len(t, strings.TrimPrefix(id, "td_notices_"), DigestLen)
	assert.True(t, Valid(id))
	assert.Equal(t, id, Compute("td_notices", "Road closed on Nathan Road", "Maintenance work until 6pm"))
}

func TestValid(t *testing.T) {
	assert.False(t, Valid(""))
	assert.False(t, Valid("_abcdefabcdef"))
	assert.False(t, Valid("slug_xyz"))
	assert.False(t, Valid("slug_zzzzzzzzzzzz"))
	assert.True(t, Valid("hko_warn_0123456789ab"))
}
