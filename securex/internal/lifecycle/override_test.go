package lifecycle

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithProvider_Nesting(t *testing.T) {
	outer := &tagProvider{tag: "outer"}
	inner := &tagProvider{tag: "inner"}

	base := context.Background()
	_, ok := ActiveProvider(base, accountType)
	assert.False(t, ok)
	assert.Zero(t, OverrideDepth(base, accountType))

	ctx1 := WithProvider(base, accountType, outer)
	ctx2 := WithProvider(ctx1, accountType, inner)

	p, ok := ActiveProvider(ctx2, accountType)
	require.True(t, ok)
	assert.Same(t, inner, p)
	assert.Equal(t, 2, OverrideDepth(ctx2, accountType))

	p, ok = ActiveProvider(ctx1, accountType)
	require.True(t, ok)
	assert.Same(t, outer, p)
	assert.Equal(t, 1, OverrideDepth(ctx1, accountType))

	_, ok = ActiveProvider(base, accountType)
	assert.False(t, ok)
}

func TestWithProvider_PerType(t *testing.T) {
	type invoice struct{}
	invoiceType := reflect.TypeOf(invoice{})

	p := &tagProvider{tag: "accounts"}
	ctx := WithProvider(context.Background(), accountType, p)

	_, ok := ActiveProvider(ctx, invoiceType)
	assert.False(t, ok)

	q := &tagProvider{tag: "invoices"}
	ctx = WithProvider(ctx, invoiceType, q)

	got, _ := ActiveProvider(ctx, accountType)
	assert.Same(t, p, got)
	got, _ = ActiveProvider(ctx, invoiceType)
	assert.Same(t, q, got)
}

func TestWithProvider_SiblingsDoNotShareStacks(t *testing.T) {
	base := WithProvider(context.Background(), accountType, &tagProvider{tag: "base"})

	a := &tagProvider{tag: "a"}
	b := &tagProvider{tag: "b"}
	ctxA := WithProvider(base, accountType, a)
	ctxB := WithProvider(base, accountType, b)

	got, _ := ActiveProvider(ctxA, accountType)
	assert.Same(t, a, got)
	got, _ = ActiveProvider(ctxB, accountType)
	assert.Same(t, b, got)
	assert.Equal(t, 1, OverrideDepth(base, accountType))
}

func TestWithProvider_Concurrent(t *testing.T) {
	base := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := &tagProvider{tag: "worker"}
			ctx := WithProvider(base, accountType, p)
			got, ok := ActiveProvider(ctx, accountType)
			assert.True(t, ok)
			assert.Same(t, p, got)
		}()
	}
	wg.Wait()

	_, ok := ActiveProvider(base, accountType)
	assert.False(t, ok)
}

func TestActiveProvider_NilContext(t *testing.T) {
	_, ok := ActiveProvider(nil, accountType)
	assert.False(t, ok)
	assert.Zero(t, OverrideDepth(nil, accountType))
}
