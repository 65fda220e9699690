package events_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfelipe/argus/internal/detector"
	"github.com/lfelipe/argus/internal/events"
)

func TestEvent_WireFormat(t *testing.T) {
	// The type strings and field names are the wire contract between the
	// model service and every deployed mapper; renaming them is a breaking
	// change.
	event := events.Event{
		Type: events.TypeDetectorsDisabled,
		Mappings: []detector.Mapping{{
			Detector: detector.Detector{
				UUID:    uuid.MustParse("11111111-1111-1111-1111-111111111111"),
				Enabled: false,
			},
			Expression: detector.Expression{
				Operator: detector.OperatorAnd,
				Operands: []detector.Operand{
					{Field: detector.Field{Key: "app", Value: "checkout"}},
				},
			},
		}},
	}

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	assert.Contains(t, string(payload), `"type":"detectors_disabled"`)
	assert.Contains(t, string(payload), `"operator":"AND"`)
	assert.Contains(t, string(payload), `"key":"app"`)

	var decoded events.Event
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, event.Type, decoded.Type)
	require.Len(t, decoded.Mappings, 1)
	assert.Equal(t, event.Mappings[0].Detector.UUID, decoded.Mappings[0].Detector.UUID)
	assert.Equal(t, event.Mappings[0].Expression, decoded.Mappings[0].Expression)
}

func TestEvent_TypeConstants(t *testing.T) {
	assert.Equal(t, events.Type("detectors_disabled"), events.TypeDetectorsDisabled)
	assert.Equal(t, events.Type("mappings_changed"), events.TypeMappingsChanged)
}
