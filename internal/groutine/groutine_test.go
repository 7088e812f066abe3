package groutine

import (
	"context"
	"runtime/pprof"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGo_NamesContext(t *testing.T) {
	type result struct {
		name  string
		label string
	}
	got := make(chan result, 1)

	Go(nil, "worker-1", func(ctx context.Context) {
		label, _ := pprof.Label(ctx, "goroutine_name")
		got <- result{name: Name(ctx), label: label}
	})

	select {
	case r := <-got:
		assert.Equal(t, "worker-1", r.name)
		assert.Equal(t, "worker-1", r.label)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGo_TracksLive(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	before := Live()

	Go(context.Background(), "blocked", func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started
	assert.Equal(t, before+1, Live())

	close(release)
	assert.Eventually(t, func() bool { return Live() == before }, time.Second, time.Millisecond)
}

func TestName_WithoutGo(t *testing.T) {
	assert.Equal(t, "", Name(context.Background()))
	assert.Equal(t, "", Name(nil)) //nolint:staticcheck
}
