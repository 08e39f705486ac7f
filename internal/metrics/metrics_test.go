package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersEveryCollectorUnderNamespace(t *testing.T) {
	m := New("imsearch_test")
	m.ImagesIngested.Inc()
	m.SearchesTotal.WithLabelValues("ok").Inc()

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["imsearch_test_images_ingested_total"])
	assert.True(t, names["imsearch_test_searches_total"])
}

func TestPusher_Run_ZeroIntervalReturnsImmediately(t *testing.T) {
	m := New("imsearch_test2")
	p := NewPusher(m, "http://127.0.0.1:1/", 0)

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return immediately for a non-positive interval")
	}
}

func TestPusher_Run_StopsOnContextCancel(t *testing.T) {
	m := New("imsearch_test3")
	p := NewPusher(m, "http://127.0.0.1:1/", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
