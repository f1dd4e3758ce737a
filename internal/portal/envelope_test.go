package portal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) *Envelope {
	t.Helper()
	env, err := Decode([]byte(s))
	require.NoError(t, err)
	return env
}

func TestEnvelopeItemsShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bare list", `{"js":[{"id":"1"},{"id":"2"}]}`, 2},
		{"data list", `{"js":{"total_items":"2","data":[{"id":"1"},{"id":"2"}]}}`, 2},
		{"data object", `{"js":{"total_items":1,"data":{"id":"1"}}}`, 1},
		{"non-object rows skipped", `{"js":[{"id":"1"},"x",3]}`, 1},
		{"no js", `{"error":"x"}`, 0},
		{"top-level list", `[1,2]`, 0},
		{"null js", `{"js":null}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, decode(t, tt.body).Items(), tt.want)
		})
	}
}

func TestEnvelopeTotalItems(t *testing.T) {
	n, ok := decode(t, `{"js":{"total_items":"47","data":[]}}`).TotalItems()
	assert.True(t, ok)
	assert.Equal(t, 47, n)

	n, ok = decode(t, `{"js":{"total_items":12}}`).TotalItems()
	assert.True(t, ok)
	assert.Equal(t, 12, n)

	_, ok = decode(t, `{"js":[]}`).TotalItems()
	assert.False(t, ok)
}

func TestDecodeRejectsNonJSON(t *testing.T) {
	_, err := Decode([]byte("<html>"))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestObjectLookups(t *testing.T) {
	obj := decode(t, `{"js":{"title":"","name":" News ","id":17,"num":"42","f":"3.0","is_series":"1","is_season":false,"flag":0}}`).Object()

	assert.Equal(t, "News", obj.Str("title", "name", "category_name"))
	assert.Equal(t, "17", obj.Str("category_id", "id"))
	assert.Equal(t, "", obj.Str("missing"))

	n, ok := obj.Int("missing", "num")
	assert.True(t, ok)
	assert.EqualValues(t, 42, n)
	n, ok = obj.Int("f")
	assert.True(t, ok)
	assert.EqualValues(t, 3, n)
	_, ok = obj.Int("name")
	assert.False(t, ok)

	v, present := obj.Bool("is_series")
	assert.True(t, present)
	assert.True(t, v)
	v, present = obj.Bool("is_season")
	assert.True(t, present)
	assert.False(t, v)
	v, present = obj.Bool("flag")
	assert.True(t, present)
	assert.False(t, v)
	_, present = obj.Bool("nope")
	assert.False(t, present)
}

func TestObjectInts(t *testing.T) {
	obj := decode(t, `{"js":{"series":[1,"2",{"x":3},"four",5]}}`).Object()
	assert.Equal(t, []int{1, 2, 5}, obj.Ints("series"))
	assert.Nil(t, obj.Ints("missing"))
}

func TestParseDialectAndEndpoints(t *testing.T) {
	d, err := ParseDialect("")
	require.NoError(t, err)
	assert.Equal(t, DialectExtended, d)
	assert.Equal(t, []string{"http://p/stalker_portal/server/load.php", "http://p/stalker_portal/load.php"}, d.Endpoints("http://p"))
	assert.Equal(t, 3600.0, d.TokenValidity().Seconds())

	d, err = ParseDialect("Simple")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://p/portal.php"}, d.Endpoints("http://p"))
	assert.Equal(t, 600.0, d.TokenValidity().Seconds())
	assert.Equal(t, 0, d.FirstPage())
	assert.Equal(t, "series", d.SeriesType())
	assert.Equal(t, 1, DialectExtended.FirstPage())
	assert.Equal(t, "vod", DialectExtended.SeriesType())

	_, err = ParseDialect("xtream")
	assert.Error(t, err)
}

func TestNormalizeBase(t *testing.T) {
	b, err := NormalizeBase(" http://portal.example:8080/stalker_portal/c/ ")
	require.NoError(t, err)
	assert.Equal(t, "http://portal.example:8080", b)
	_, err = NormalizeBase("portal.example")
	assert.Error(t, err)
}
