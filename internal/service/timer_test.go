//go:build !integration && !e2e
// +build !integration,!e2e

package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimer_NilBeforeStop(t *testing.T) {
	timer := NewTimer()
	assert.Nil(t, timer.FirstByteDelayMS())
	assert.Nil(t, timer.TotalTimeMS())
}

func TestTimer_StopWithoutFirstByte(t *testing.T) {
	timer := NewTimer()
	time.Sleep(2 * time.Millisecond)
	timer.Stop()

	total := timer.TotalTimeMS()
	firstByte := timer.FirstByteDelayMS()
	require.NotNil(t, total)
	require.NotNil(t, firstByte)
	// With no first-byte mark the delay collapses to the total.
	assert.Equal(t, *total, *firstByte)
}

func TestTimer_FirstByteBeforeStop(t *testing.T) {
	timer := NewTimer()
	time.Sleep(2 * time.Millisecond)
	timer.MarkFirstByte()
	time.Sleep(2 * time.Millisecond)
	timer.Stop()

	firstByte := timer.FirstByteDelayMS()
	total := timer.TotalTimeMS()
	require.NotNil(t, firstByte)
	require.NotNil(t, total)
	assert.LessOrEqual(t, *firstByte, *total)
}

func TestTimer_FirstByteMarkedOnce(t *testing.T) {
	timer := NewTimer()
	timer.MarkFirstByte()
	first := timer.FirstByteDelayMS()
	time.Sleep(2 * time.Millisecond)
	timer.MarkFirstByte()
	assert.Equal(t, *first, *timer.FirstByteDelayMS())
}
