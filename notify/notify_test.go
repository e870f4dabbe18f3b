package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisher(t *testing.T) {
	var m Memory
	var p Publisher = &m

	require.NoError(t, p.Publish(context.Background(), Event{Type: EventDAGBuilt, RunID: "r1"}))
	require.NoError(t, p.Publish(context.Background(), Event{Type: EventWorldSaved, EnvironmentID: "env"}))

	evs := m.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, EventDAGBuilt, evs[0].Type)
	assert.Equal(t, "env", evs[1].EnvironmentID)
	require.NoError(t, p.Close())
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Event{Type: EventDAGBuilt}))
	assert.NoError(t, p.Close())
}

func TestNATSSubject(t *testing.T) {
	assert.Equal(t, "gosynth.events.dag.built", NewNATSPublisher(nil, "").Subject(EventDAGBuilt))
	assert.Equal(t, "lab.world.saved", NewNATSPublisher(nil, "lab").Subject(EventWorldSaved))
}

func TestNATSPublishHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewNATSPublisher(nil, "").Publish(ctx, Event{Type: EventDAGBuilt})
	require.ErrorIs(t, err, context.Canceled)
}
