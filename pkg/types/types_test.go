package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPushOrderReversesPullOrder(t *testing.T) {
	push := PushOrder()
	assert.Equal(t, len(PullOrder), len(push))
	for i, k := range push {
		assert.Equal(t, PullOrder[len(PullOrder)-1-i], k)
	}
}

func TestKindIsBinary(t *testing.T) {
	assert.True(t, KindAsset.IsBinary())
	assert.False(t, KindContent.IsBinary())
	assert.False(t, KindContentType.IsBinary())
}

func TestSummaryString(t *testing.T) {
	s := Summary{Op: "pushed"}
	s.RecordSuccess("/a")
	s.RecordSuccess("/b")
	s.RecordFailure("/c", NewConflict("/c"))
	assert.Equal(t, "2 artifacts successfully pushed, 1 errors", s.String())
}

func TestSummaryMerge(t *testing.T) {
	a := Summary{Op: "pulled"}
	a.RecordSuccess("/a")
	b := Summary{Op: "pulled"}
	b.RecordSuccess("/b")
	b.RecordFailure("/x", NewInvalidPath("/x", "bad"))

	a.Merge(b)
	assert.Equal(t, []string{"/a", "/b"}, a.Succeeded)
	assert.Len(t, a.Failed, 1)
}

func TestOptionsWithDefaults(t *testing.T) {
	o := Options{}.WithDefaults()
	assert.Equal(t, 200, o.Limit)
	assert.Equal(t, "en", o.Locale)
	assert.Equal(t, 500*time.Millisecond, o.RetryMinTimeout)
	assert.Equal(t, []int{429, 500, 502, 503, 504}, o.RetryStatusCodes)
	assert.NotNil(t, o.FilterRetryPush)
	assert.False(t, o.FilterRetryPush(nil))

	custom := Options{Limit: 50, Locale: "fr"}.WithDefaults()
	assert.Equal(t, 50, custom.Limit)
	assert.Equal(t, "fr", custom.Locale)
}

func TestCursorNext(t *testing.T) {
	c := Cursor{Offset: 0, Limit: 100}
	n := c.Next()
	assert.Equal(t, 100, n.Offset)
	assert.Equal(t, 100, n.Limit)
}
