package parser

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFallback struct {
	result   *Result
	err      error
	excerpts []string
}

func (f *fakeFallback) ExtractFallback(_ context.Context, excerpt string) (*Result, error) {
	f.excerpts = append(f.excerpts, excerpt)
	return f.result, f.err
}

func newTestPipeline(fb FallbackExtractor) *Pipeline {
	policies := &stubPolicies{windows: map[string]int{"amazon.com": 30}}
	return NewPipeline(NewResolver(policies), fb, zerolog.Nop())
}

var received = time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC)

const weakBody = "Thanks for your purchase of Blue Socks. Paid $19.99"

func TestPipelineStrongHeuristicSkipsFallback(t *testing.T) {
	fb := &fakeFallback{}
	p := newTestPipeline(fb)

	ext, err := p.Process(context.Background(), Email{
		Subject:     "Your order",
		BodyText:    "Order Date: March 5, 2026. Order #: 112-7788991 Order Total: $59.99.",
		FromAddress: "auto-confirm@amazon.com",
		ReceivedAt:  received,
	})
	require.NoError(t, err)

	assert.Empty(t, fb.excerpts)
	assert.False(t, ext.UsedFallback)
	assert.Equal(t, PolicyMerchantTable, ext.Result.PolicySource)
	assert.Equal(t, 30, *ext.Result.ReturnWindowDays)
	assert.InDelta(t, 0.75, ext.Result.Confidence, 1e-9)
	require.NotNil(t, ext.OrderDate)
	assert.Equal(t, date(2026, time.March, 5), *ext.OrderDate)
	require.NotNil(t, ext.ReturnDeadline)
	assert.Equal(t, date(2026, time.April, 4), *ext.ReturnDeadline)
}

func TestPipelineFallbackFillsGaps(t *testing.T) {
	fb := &fakeFallback{result: &Result{
		OrderDate:   ptr("2026-03-01"),
		OrderID:     ptr("FB-1"),
		Items:       ptr("Blue Socks"),
		TotalAmount: ptr(25.0),
		Confidence:  0.85,
	}}
	p := newTestPipeline(fb)

	ext, err := p.Process(context.Background(), Email{
		BodyText:    weakBody,
		FromAddress: "orders@shop.example",
		ReceivedAt:  received,
	})
	require.NoError(t, err)

	require.Len(t, fb.excerpts, 1)
	assert.Equal(t, weakBody, fb.excerpts[0])
	assert.True(t, ext.UsedFallback)

	assert.InDelta(t, 19.99, *ext.Result.TotalAmount, 0.001)
	assert.Equal(t, "FB-1", *ext.Result.OrderID)
	assert.Equal(t, "Blue Socks", *ext.Result.Items)
	assert.Equal(t, PolicyFallback, ext.Result.PolicySource)
	assert.InDelta(t, 0.65, ext.Result.Confidence, 1e-9)
	require.NotNil(t, ext.ReturnDeadline)
	assert.Equal(t, date(2026, time.March, 31), *ext.ReturnDeadline)
}

func TestPipelineFallbackErrorIsIgnored(t *testing.T) {
	fb := &fakeFallback{err: errors.New("upstream timeout")}
	p := newTestPipeline(fb)

	ext, err := p.Process(context.Background(), Email{
		BodyText:    weakBody,
		FromAddress: "orders@shop.example",
		ReceivedAt:  received,
	})
	require.NoError(t, err)

	assert.False(t, ext.UsedFallback)
	assert.Nil(t, ext.Result.OrderDate)
	assert.InDelta(t, 0.45, ext.Result.Confidence, 1e-9)
	require.NotNil(t, ext.OrderDate)
	assert.Equal(t, date(2026, time.March, 10), *ext.OrderDate)
	assert.Equal(t, date(2026, time.April, 9), *ext.ReturnDeadline)
}

func TestPipelineWithoutFallbackExtractor(t *testing.T) {
	ext, err := newTestPipeline(nil).Process(context.Background(), Email{
		BodyText:    weakBody,
		FromAddress: "orders@shop.example",
		ReceivedAt:  received,
	})
	require.NoError(t, err)
	assert.False(t, ext.UsedFallback)
}

func TestPipelineNothingExtracted(t *testing.T) {
	fb := &fakeFallback{}
	_, err := newTestPipeline(fb).Process(context.Background(), Email{
		BodyText:    "Thanks for visiting our store",
		FromAddress: "hello@shop.example",
		ReceivedAt:  received,
	})

	assert.ErrorIs(t, err, ErrNothingExtracted)
	assert.Len(t, fb.excerpts, 1)
}

func TestPipelineUnparseableDateLeavesDeadlineUnknown(t *testing.T) {
	ext, err := newTestPipeline(nil).Process(context.Background(), Email{
		BodyText:    "Order date: 31/31/2026 Total: $10.00",
		FromAddress: "orders@shop.example",
		ReceivedAt:  received,
	})
	require.NoError(t, err)

	require.NotNil(t, ext.Result.OrderDate)
	assert.Equal(t, "31/31/2026", *ext.Result.OrderDate)
	assert.Nil(t, ext.OrderDate)
	assert.Nil(t, ext.ReturnDeadline)
}

func TestPipelineEmailWindowWins(t *testing.T) {
	ext, err := newTestPipeline(&fakeFallback{}).Process(context.Background(), Email{
		BodyText:    "Order Date: March 5, 2026 Total: $10.00 Order #: ABCDE1 Returns within 7 days",
		FromAddress: "auto-confirm@amazon.com",
		ReceivedAt:  received,
	})
	require.NoError(t, err)

	assert.Equal(t, 7, *ext.Result.ReturnWindowDays)
	assert.Equal(t, PolicyEmail, ext.Result.PolicySource)
	assert.InDelta(t, 1.0, ext.Result.Confidence, 1e-9)
	assert.Equal(t, date(2026, time.March, 12), *ext.ReturnDeadline)
}

func TestPipelineFallbackExcerptIsTruncated(t *testing.T) {
	fb := &fakeFallback{result: &Result{OrderID: ptr("Z-99"), Confidence: 0.6}}
	_, err := newTestPipeline(fb).Process(context.Background(), Email{
		BodyText:    strings.Repeat("a", 8000),
		FromAddress: "orders@shop.example",
	})
	require.NoError(t, err)

	require.Len(t, fb.excerpts, 1)
	assert.Len(t, fb.excerpts[0], 5000)
}

func TestPipelinePolicyLookupError(t *testing.T) {
	p := NewPipeline(NewResolver(&stubPolicies{err: errors.New("disk I/O error")}), nil, zerolog.Nop())

	_, err := p.Process(context.Background(), Email{
		BodyText:    weakBody,
		FromAddress: "orders@shop.example",
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNothingExtracted)
}
