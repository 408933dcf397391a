package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssignsIDAndTimestamp(t *testing.T) {
	e := New(EntityCustomer, TypeCreated, map[string]any{"entityId": "cust-1"})

	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	require.NoError(t, e.Validate())
}

func TestValidate(t *testing.T) {
	assert.Error(t, (&Event{EventType: TypeCreated}).Validate())
	assert.Error(t, (&Event{EntityType: EntityRoute}).Validate())
	assert.Error(t, (*Event)(nil).Validate())
	assert.NoError(t, (&Event{EntityType: EntityRoute, EventType: TypeCreated}).Validate())
}

func TestEntityIDExtraction(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want string
	}{
		{"entityId preferred", map[string]any{"entityId": "a", "id": "b"}, "a"},
		{"snake case", map[string]any{"entity_id": "x"}, "x"},
		{"plain id", map[string]any{"id": "y"}, "y"},
		{"uuid fallback", map[string]any{"uuid": "z"}, "z"},
		{"empty string skipped", map[string]any{"entityId": "", "id": "y"}, "y"},
		{"non-string skipped", map[string]any{"entityId": 42, "id": "y"}, "y"},
		{"missing", map[string]any{"other": "v"}, "unknown"},
		{"nil data", nil, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Event{EntityType: EntityCustomer, EventType: TypeCreated, Data: tt.data}
			assert.Equal(t, tt.want, e.EntityID())
		})
	}
}

func TestCorrelationKey(t *testing.T) {
	e := &Event{EntityType: EntityRoute, EventType: TypeUpdated, Data: map[string]any{"id": "r-9"}}
	assert.Equal(t, "route-r-9", e.CorrelationKey())

	bare := &Event{EntityType: EntityRoute, EventType: TypeUpdated}
	assert.Equal(t, "route-unknown", bare.CorrelationKey())
}

func TestDurationAndVolumeFields(t *testing.T) {
	e := &Event{Data: map[string]any{"processingTime": 6200.0}}
	d, ok := e.Duration()
	require.True(t, ok)
	assert.Equal(t, 6200.0, d)

	e = &Event{Data: map[string]any{"quantity": 1500}}
	v, ok := e.Volume()
	require.True(t, ok)
	assert.Equal(t, 1500.0, v)

	e = &Event{Data: map[string]any{"note": "none"}}
	_, ok = e.Duration()
	assert.False(t, ok)
}

func TestIsError(t *testing.T) {
	assert.True(t, (&Event{EventType: TypeError}).IsError())
	assert.True(t, (&Event{EventType: TypeFailed}).IsError())
	assert.False(t, (&Event{EventType: TypeCreated}).IsError())
}
