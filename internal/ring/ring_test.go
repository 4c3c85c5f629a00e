package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishConsumeRoundTrip(t *testing.T) {
	r := New(4, 16)

	chunk, buf := r.Reserve()
	copy(buf, "hello")
	seq := r.Publish(chunk, 0, 5, 1000)
	assert.EqualValues(t, 0, seq)

	fr, payload, status := r.Begin(0)
	require.Equal(t, Ready, status)
	assert.Equal(t, "hello", string(payload))
	assert.EqualValues(t, 5, fr.Size)
	assert.EqualValues(t, 1000, fr.PublishNS)

	assert.Equal(t, Ready, r.End(0))
}

func TestNotReadyBeforePublish(t *testing.T) {
	r := New(4, 16)
	_, _, status := r.Begin(0)
	assert.Equal(t, NotReady, status)
}

func TestOverrunDetectedOnBegin(t *testing.T) {
	r := New(2, 8)
	for i := 0; i < 3; i++ { // depth 2: publishing seq 2 laps seq 0's slot
		chunk, buf := r.Reserve()
		copy(buf, "x")
		r.Publish(chunk, 0, 1, int64(i))
	}
	_, _, status := r.Begin(0)
	assert.Equal(t, Overrun, status)
}

func TestOverrunDetectedOnEnd(t *testing.T) {
	r := New(2, 8)
	chunk, buf := r.Reserve()
	copy(buf, "x")
	r.Publish(chunk, 0, 1, 0)

	_, _, status := r.Begin(0)
	require.Equal(t, Ready, status)

	// Producer laps the consumer mid-copy.
	for i := 0; i < 2; i++ {
		chunk, buf := r.Reserve()
		copy(buf, "y")
		r.Publish(chunk, 0, 1, int64(i+1))
	}

	assert.Equal(t, Overrun, r.End(0))
}

func TestAccountKeyString(t *testing.T) {
	var k AccountKey
	k[0] = 1
	assert.NotEmpty(t, k.String())
}
