package job

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageCloseOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	page := &Page{Release: func() error {
		calls++
		return nil
	}}
	require.NoError(t, page.Close())
	require.NoError(t, page.Close())
	require.Equal(t, 1, calls)

	var nilPage *Page
	require.NoError(t, nilPage.Close())
}

func TestPageScreenshotUnsupported(t *testing.T) {
	t.Parallel()

	_, err := (&Page{}).Screenshot(context.Background())
	require.ErrorIs(t, err, ErrNoScreenshot)
}
