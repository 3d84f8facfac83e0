package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultStyles_UseColor(t *testing.T) {
	styles := DefaultStyles()

	assert.True(t, styles.Header.GetBold())
	assert.True(t, styles.Active.GetBold())
	assert.NotNil(t, styles.Error.GetForeground())
}

func TestNoColorStyles_AreUnstyled(t *testing.T) {
	styles := NoColorStyles()

	assert.False(t, styles.Header.GetBold())
	assert.False(t, styles.Active.GetBold())

	// Unstyled render passes text through untouched.
	assert.Equal(t, "hello", styles.Error.Render("hello"))
	assert.Equal(t, "hello", styles.Success.Render("hello"))
}

func TestGetStyles(t *testing.T) {
	assert.Equal(t, "x", GetStyles(true).Header.Render("x"))
	assert.True(t, GetStyles(false).Header.GetBold())
}
