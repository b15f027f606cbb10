package zipfmt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewContextDefaults(t *testing.T) {
	t.Parallel()

	ctx := NewContext("archive.zip")
	assert.Equal(t, "archive.zip", ctx.ArchivePath)
	assert.Equal(t, uint16(MethodDeflate), ctx.Method)
	assert.Equal(t, 6, ctx.Level)
	assert.Equal(t, defaultZip64Trigger, ctx.trigger())
}

func TestContextTriggerOverride(t *testing.T) {
	t.Setenv(zip64TriggerEnv, "1024")
	ctx := NewContext("archive.zip")
	assert.Equal(t, uint64(1024), ctx.trigger())
}

func TestContextInTimeWindow(t *testing.T) {
	t.Parallel()

	ctx := &Context{
		After:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Before: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	assert.True(t, ctx.inTimeWindow(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, ctx.inTimeWindow(time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, ctx.inTimeWindow(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
}

func TestContextInTimeWindowUnbounded(t *testing.T) {
	t.Parallel()

	ctx := &Context{}
	assert.True(t, ctx.inTimeWindow(time.Now()))
}

func TestContextSelectionPolicy(t *testing.T) {
	t.Parallel()

	ctx := &Context{Includes: []string{"*.go"}, Excludes: []string{"*_test.go"}}
	sel := ctx.selectionPolicy()
	require.NotNil(t, sel)
	assert.True(t, sel.Matches("main.go"))
	assert.False(t, sel.Matches("main_test.go"))
}

func TestContextReportIsNoOpWithoutCallback(t *testing.T) {
	t.Parallel()

	ctx := &Context{}
	assert.NotPanics(t, func() { ctx.report("writing", 1, 2) })
}

func TestContextReportInvokesCallback(t *testing.T) {
	t.Parallel()

	var gotStage string
	var gotProcessed, gotTotal int
	ctx := &Context{OnProgress: func(stage string, processed, total int) {
		gotStage, gotProcessed, gotTotal = stage, processed, total
	}}
	ctx.report("writing", 3, 5)
	assert.Equal(t, "writing", gotStage)
	assert.Equal(t, 3, gotProcessed)
	assert.Equal(t, 5, gotTotal)
}

func TestContextReportClampsOutOfRangeProcessed(t *testing.T) {
	t.Parallel()

	var gotProcessed int
	ctx := &Context{OnProgress: func(_ string, processed, _ int) { gotProcessed = processed }}

	ctx.report("writing", -3, 5)
	assert.Equal(t, 0, gotProcessed)

	ctx.report("writing", 9, 5)
	assert.Equal(t, 5, gotProcessed)
}

func TestContextReportIsNoOpWithNonPositiveTotal(t *testing.T) {
	t.Parallel()

	called := false
	ctx := &Context{OnProgress: func(_ string, _, _ int) { called = true }}
	ctx.report("writing", 0, 0)
	assert.False(t, called)
}
