package bubble_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chomosuke9/Bubblekit/bubble"
)

func TestBind_GeneratesIDWhenEmpty(t *testing.T) {
	t.Parallel()
	b := bubble.Bind("", "assistant", "")
	assert.NotEmpty(t, b.ID())
	assert.Equal(t, "text", b.Snapshot().Type)
}

func TestBind_PreservesGivenID(t *testing.T) {
	t.Parallel()
	b := bubble.Bind("fixed-id", "assistant", "text")
	assert.Equal(t, "fixed-id", b.ID())
}

func TestApplyInitialConfig_AlwaysIncludesRoleAndType(t *testing.T) {
	t.Parallel()
	b := bubble.Bind("id1", "assistant", "text")

	frame := b.ApplyInitialConfig(bubble.Patch{})
	require.NotNil(t, frame)
	assert.Equal(t, bubble.FrameConfig, frame.Type)
	assert.Equal(t, "assistant", frame.Patch["role"])
	assert.Equal(t, "text", frame.Patch["type"])
}

func TestSetAndStream_NoOpAfterDone(t *testing.T) {
	t.Parallel()
	b := bubble.Bind("id1", "assistant", "text")
	b.ApplyInitialConfig(bubble.Patch{})

	frame, ok := b.Set("hello")
	require.True(t, ok)
	assert.Equal(t, "hello", frame.Content)

	doneFrame, already := b.Finalize()
	require.False(t, already)
	assert.Equal(t, bubble.FrameDone, doneFrame.Type)

	_, ok = b.Set("world")
	assert.False(t, ok)
	_, ok = b.Stream("world")
	assert.False(t, ok)

	assert.Equal(t, "hello", b.Snapshot().Content)
}

func TestStream_Appends(t *testing.T) {
	t.Parallel()
	b := bubble.Bind("id1", "assistant", "text")
	b.ApplyInitialConfig(bubble.Patch{})

	f1, ok := b.Stream("Hel")
	require.True(t, ok)
	assert.Equal(t, "Hel", f1.Content)

	f2, ok := b.Stream("lo")
	require.True(t, ok)
	assert.Equal(t, "lo", f2.Content)

	assert.Equal(t, "Hello", b.Snapshot().Content)
}

func TestFinalize_Idempotent(t *testing.T) {
	t.Parallel()
	b := bubble.Bind("id1", "assistant", "text")

	frame1, already1 := b.Finalize()
	require.False(t, already1)
	require.NotNil(t, frame1)

	frame2, already2 := b.Finalize()
	assert.True(t, already2)
	assert.Nil(t, frame2)
}

func TestUpdateConfig_EmptyPatchEmitsNoFrame(t *testing.T) {
	t.Parallel()
	b := bubble.Bind("id1", "assistant", "text")
	b.ApplyInitialConfig(bubble.Patch{})

	frame, ok, err := b.UpdateConfig(bubble.Patch{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, frame)
}

func TestUpdateConfig_AfterDoneIsSilentNoOp(t *testing.T) {
	t.Parallel()
	b := bubble.Bind("id1", "assistant", "text")
	b.Finalize()

	frame, ok, err := b.UpdateConfig(bubble.Patch{Name: ptrptr("x")})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, frame)
}

func ptrptr(s string) **string {
	p := &s
	return &p
}

func TestToPatch_NullDistinctFromOmittedName(t *testing.T) {
	t.Parallel()

	omitted, err := bubble.ToPatch(bubble.FlatParams{})
	require.NoError(t, err)
	assert.Nil(t, omitted.Name)

	nulled, err := bubble.ToPatch(bubble.FlatParams{Name: bubble.Null()})
	require.NoError(t, err)
	require.NotNil(t, nulled.Name)
	assert.Nil(t, *nulled.Name)

	named, err := bubble.ToPatch(bubble.FlatParams{Name: bubble.Str("Assistant")})
	require.NoError(t, err)
	require.NotNil(t, named.Name)
	require.NotNil(t, *named.Name)
	assert.Equal(t, "Assistant", **named.Name)
}

func TestUpdateConfig_ExplicitNullHidesName(t *testing.T) {
	t.Parallel()
	b := bubble.Bind("id1", "assistant", "text")
	b.ApplyInitialConfig(bubble.Patch{Name: bubble.Str("Assistant")})
	require.Equal(t, "Assistant", *b.Snapshot().Config.Name)

	frame, ok, err := b.UpdateConfig(bubble.Patch{Name: bubble.Null()})
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, frame)
	require.Contains(t, frame.Patch, "name")
	assert.Nil(t, frame.Patch["name"])

	assert.Nil(t, b.Snapshot().Config.Name)
}

func TestColorMerge_SurvivesLaterPatchesNotMentioningTheKey(t *testing.T) {
	// Concrete scenario 6 from spec.md §8/§8 "Concrete scenarios".
	t.Parallel()
	b := bubble.Bind("id1", "assistant", "text")

	flat1, err := bubble.ToPatch(bubble.FlatParams{BubbleBG: "#111", HeaderText: "#aaa"})
	require.NoError(t, err)
	b.ApplyInitialConfig(flat1)

	flat2, err := bubble.ToPatch(bubble.FlatParams{BubbleText: "#eee"})
	require.NoError(t, err)
	frame, ok, err := b.UpdateConfig(flat2)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, frame)

	colors, isMap := frame.Patch["colors"].(map[string]map[string]string)
	require.True(t, isMap)
	assert.Equal(t, map[string]string{"text": "#eee"}, colors["bubble"])
	_, hasHeader := colors["header"]
	assert.False(t, hasHeader, "second patch frame should only carry the changed group")

	snap := b.Snapshot()
	assert.Equal(t, "#111", snap.Config.Colors["bubble"]["bg"])
	assert.Equal(t, "#eee", snap.Config.Colors["bubble"]["text"])
	assert.Equal(t, "#aaa", snap.Config.Colors["header"]["text"])
}

func TestToPatch_AutoSentinelOmitsKey(t *testing.T) {
	t.Parallel()
	p, err := bubble.ToPatch(bubble.FlatParams{BubbleBG: "auto"})
	require.NoError(t, err)
	assert.Empty(t, p.Colors)
}

func TestToPatch_ForbiddenExtraKeyRejected(t *testing.T) {
	t.Parallel()
	_, err := bubble.ToPatch(bubble.FlatParams{Extra: map[string]any{"id": "nope"}})
	assert.Error(t, err)
}

func TestValidateFlatPatchKeys(t *testing.T) {
	t.Parallel()
	assert.Error(t, bubble.ValidateFlatPatchKeys([]string{"id"}))
	assert.Error(t, bubble.ValidateFlatPatchKeys([]string{"colors"}))
	assert.NoError(t, bubble.ValidateFlatPatchKeys([]string{"name", "icon"}))
}
