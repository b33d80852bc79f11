package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTag(t *testing.T) {
	tests := []struct {
		tag    string
		isDir  bool
		kind   Kind
		source string
	}{
		{tag: "_op=ocr/prefix-only", isDir: true, kind: KindPrefixOnly},
		{tag: "_op=ocr/umi.zh-CN", isDir: true, kind: KindFromSource, source: "umi.zh-CN"},
		{tag: "_op=back", isDir: true, kind: KindAdoptRemote},
		{tag: "_op=back/extra", isDir: true, kind: KindUnknown},
		{tag: "_op=ocr", isDir: true, kind: KindUnknown},
		{tag: "_op=", isDir: true, kind: KindUnknown},
		{tag: "_ocr=cloud"},
		{tag: "_tag=src/Drama"},
		{tag: "op=back"},
	}
	for _, tc := range tests {
		t.Run(tc.tag, func(t *testing.T) {
			d, ok := ParseTag(tc.tag)
			require.Equal(t, tc.isDir, ok)
			if !ok {
				return
			}
			assert.Equal(t, tc.kind, d.Kind)
			assert.Equal(t, tc.source, d.Source)
			assert.Equal(t, tc.tag, d.Tag)
		})
	}
}

func TestSplitTagsKeepsOrder(t *testing.T) {
	directives, kept := SplitTags([]string{"a", "_op=back", "b", "_op=ocr/prefix-only", "_ocr=x"})
	assert.Equal(t, []string{"a", "b", "_ocr=x"}, kept)
	require.Len(t, directives, 2)
	assert.Equal(t, KindAdoptRemote, directives[0].Kind)
	assert.Equal(t, KindPrefixOnly, directives[1].Kind)
	assert.True(t, directives[1].IsOCR())
	assert.False(t, directives[0].IsOCR())

	_, kept = SplitTags(nil)
	assert.NotNil(t, kept)
	assert.Empty(t, kept)
}

func TestIsLegacyTag(t *testing.T) {
	assert.True(t, IsLegacyTag("_ocr=prefix-only"))
	assert.False(t, IsLegacyTag("_op=ocr/prefix-only"))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "adopt-remote", KindAdoptRemote.String())
	assert.Equal(t, "unknown", Kind(42).String())
}

func TestParseAnnotation(t *testing.T) {
	ann, fixed, repaired, err := parseAnnotation(`{"description":"foo"}`)
	require.NoError(t, err)
	assert.False(t, repaired)
	assert.Equal(t, `{"description":"foo"}`, fixed)
	require.NotNil(t, ann.Description)
	assert.Equal(t, "foo", *ann.Description)

	ann, _, repaired, err = parseAnnotation("")
	require.NoError(t, err)
	assert.False(t, repaired)
	assert.Nil(t, ann.Description)

	ann, fixed, repaired, err = parseAnnotation("{\"description\":\"a\r\n  <a href=\"u\" target=\"_blank\">b</a>\"}")
	require.NoError(t, err)
	assert.True(t, repaired)
	assert.Equal(t, `{"description":"a b"}`, fixed)
	assert.Equal(t, "a b", *ann.Description)

	_, _, _, err = parseAnnotation("{broken")
	require.ErrorIs(t, err, errUnrepairable)
}

func TestWithDescription(t *testing.T) {
	out, ok := withDescription(`{"z":1,"description":"old","a":[1]}`, "new")
	require.True(t, ok)
	assert.Equal(t, `{"z":1,"description":"new","a":[1]}`, out)

	_, ok = withDescription(`{"description":"same"}`, "same")
	assert.False(t, ok)

	out, ok = withDescription(`{"title":"t"}`, "added")
	require.True(t, ok)
	assert.Equal(t, `{"title":"t","description":"added"}`, out)

	_, ok = withDescription("not json", "x")
	assert.False(t, ok)
}
