package i18n

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestLoadEmbedded(t *testing.T) {
	c, err := LoadEmbedded()
	require.NoError(t, err)
	require.Equal(t, []string{"en-US", "zh-CN"}, c.Locales())
}

func TestLocalizerText(t *testing.T) {
	c, err := LoadEmbedded()
	require.NoError(t, err)

	en := c.Localizer("en-US")
	require.Equal(t, "Hello world", en.Text(KeyGreeting, "world"))
	require.Equal(t, "too high", en.Text(KeyTooHigh))
	require.Equal(t, "decode error", en.Text(KeyDecodeError))

	zh := c.Localizer("zh-CN")
	require.Equal(t, "猜大了", zh.Text(KeyTooHigh))
	require.Equal(t, "转换失败", zh.Text(KeyDecodeError))
}

func TestLocalizerFallback(t *testing.T) {
	c, err := LoadEmbedded()
	require.NoError(t, err)

	require.Equal(t, "en-US", c.Localizer("").Locale())
	require.Equal(t, "en-US", c.Localizer("xx-invalid").Locale())
	require.Equal(t, "zh-CN", c.Localizer("zh").Locale())
}

func TestLoadFromFSRequiresBaseLocale(t *testing.T) {
	fsys := fstest.MapFS{
		"locales/zh-CN/messages.yaml": {Data: []byte("locale: zh-CN\nmessages:\n  greeting: \"Hello %s\"\n")},
	}
	_, err := LoadFromFS(fsys)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "base locale"))
}

func TestLoadFromFSLocaleMismatch(t *testing.T) {
	fsys := fstest.MapFS{
		"locales/en-US/messages.yaml": {Data: []byte("locale: de-DE\nmessages: {}\n")},
	}
	_, err := LoadFromFS(fsys)
	require.ErrorContains(t, err, "must match path locale")
}
