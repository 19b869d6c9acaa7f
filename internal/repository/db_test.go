package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloo-solutions/recall/internal/domain"
)

func TestEntityKey(t *testing.T) {
	assert.Equal(t, "new york", EntityKey("  New   York "))
	assert.Equal(t, "postgres", EntityKey("POSTGRES"))
	assert.Equal(t, "", EntityKey(" \t "))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%`, escapeLike("100%"))
	assert.Equal(t, `snake\_case`, escapeLike("snake_case"))
	assert.Equal(t, `a\\b`, escapeLike(`a\b`))
}

func TestNullableString(t *testing.T) {
	assert.Nil(t, nullableString(""))
	got := nullableString("x")
	if assert.NotNil(t, got) {
		assert.Equal(t, "x", *got)
	}
}

func TestLayerInts(t *testing.T) {
	assert.Equal(t, []int16{1, 2}, layerInts([]domain.Layer{domain.LayerRaw, domain.LayerSummary}))
	assert.Empty(t, layerInts(nil))
}
