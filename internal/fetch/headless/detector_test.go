package headless

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetector_NeedsRender_EmptyBody(t *testing.T) {
	t.Parallel()

	d := NewDetector(100)
	require.True(t, d.NeedsRender(nil))
}

func TestDetector_NeedsRender_SPAMarkers(t *testing.T) {
	t.Parallel()

	d := NewDetector(100)
	require.True(t, d.NeedsRender([]byte(`<html><body><div id="__next"></div></body></html>`)))
	require.True(t, d.NeedsRender([]byte(`<html><body><div id="root"> </div></body></html>`)))
}

func TestDetector_NeedsRender_PopulatedRootIsFine(t *testing.T) {
	t.Parallel()

	d := NewDetector(100)
	body := []byte(`<html><body><div id="root"><p>server rendered content</p></div></body></html>`)
	require.False(t, d.NeedsRender(body))
}

func TestDetector_NeedsRender_ScriptDensity(t *testing.T) {
	t.Parallel()

	d := NewDetector(1000)
	body := []byte(`<html><body><script>var a=1;var b=2;var c=3;</script><p>t</p></body></html>`)
	require.True(t, d.NeedsRender(body))
}

func TestDetector_NeedsRender_PlainDocument(t *testing.T) {
	t.Parallel()

	d := NewDetector(10)
	body := []byte(`<html><body><p>an ordinary page with plenty of text in it</p></body></html>`)
	require.False(t, d.NeedsRender(body))
}
