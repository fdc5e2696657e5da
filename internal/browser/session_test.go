// File: internal/browser/session_test.go
package browser

import (
	"fmt"
	"strings"
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
)

func frameInfo(id, typ, url string, bctx cdp.BrowserContextID) *target.Info {
	return &target.Info{
		TargetID:         target.ID(id),
		Type:             typ,
		URL:              url,
		BrowserContextID: bctx,
	}
}

func TestMatchFrameTarget(t *testing.T) {
	mine := cdp.BrowserContextID("ctx-mine")
	other := cdp.BrowserContextID("ctx-other")

	infos := []*target.Info{
		frameInfo("t1", "page", "https://shop.example.com/signup", mine),
		frameInfo("t2", "iframe", "https://pay.example.net/widget/checkout", other),
		frameInfo("t3", "iframe", "https://pay.example.net/Widget/Checkout?session=9", mine),
		frameInfo("t4", "iframe", "https://cdn.example.org/fonts", mine),
	}

	t.Run("matches iframe in own context case-insensitively", func(t *testing.T) {
		got := matchFrameTarget(infos, mine, "widget/checkout")
		if assert.NotNil(t, got) {
			assert.Equal(t, target.ID("t3"), got.TargetID)
		}
	})

	t.Run("ignores pages and foreign contexts", func(t *testing.T) {
		assert.Nil(t, matchFrameTarget(infos, mine, "signup"))
		assert.Nil(t, matchFrameTarget(infos, cdp.BrowserContextID("nope"), "widget"))
	})

	t.Run("no match", func(t *testing.T) {
		assert.Nil(t, matchFrameTarget(infos, mine, "does-not-exist"))
	})
}

func TestJSONEncodeEscapes(t *testing.T) {
	assert.Equal(t, `"plain"`, jsonEncode("plain"))
	assert.Equal(t, `"a\"b"`, jsonEncode(`a"b`))
	assert.Equal(t, `["Accept all","I agree"]`, jsonEncode([]string{"Accept all", "I agree"}))

	// Closing-script sequences must not survive encoding intact.
	encoded := jsonEncode("</script>")
	assert.NotContains(t, encoded, "</script>")
}

func TestScriptTemplatesRender(t *testing.T) {
	for name, tpl := range map[string]string{
		"actionable": actionableJS,
		"geometry":   elementGeometryJS,
	} {
		t.Run(name, func(t *testing.T) {
			script := fmt.Sprintf(tpl, jsonEncode(`input[name="email"]`))
			assert.NotContains(t, script, "%s")
			assert.Contains(t, script, `input[name=\"email\"]`)
			assert.True(t, strings.HasPrefix(script, "(function"))
		})
	}

	script := fmt.Sprintf(clickTextJS, jsonEncode([]string{"Accept all", "Agree"}))
	assert.NotContains(t, script, "%s")
	assert.Contains(t, script, `["Accept all","Agree"]`)
}
