package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labstream/internal/series"
)

func TestDecodeValidMessage(t *testing.T) {
	msg, err := Decode([]byte(`{
		"current_experiment": "A",
		"updates": {
			"dev2": {"temp": [[100, 1.5], [101, "2.5"]]},
			"dev1": {"volt": [[100.5, 3]], "amps": []}
		}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "A", msg.Experiment)
	assert.Zero(t, msg.Dropped)
	require.Len(t, msg.Updates, 3)
	assert.Equal(t, Update{Device: "dev1", Observable: "amps"}, msg.Updates[0])
	assert.Equal(t, Update{Device: "dev1", Observable: "volt", Batch: []series.Pair{{Seconds: 100.5, Value: 3}}}, msg.Updates[1])
	assert.Equal(t, []series.Pair{{Seconds: 100, Value: 1.5}, {Seconds: 101, Value: 2.5}}, msg.Updates[2].Batch)
}

func TestDecodeDropsUnreadablePairs(t *testing.T) {
	msg, err := Decode([]byte(`{"current_experiment":"A","updates":{"d":{"o":[
		[100, 1], [101, "n/a"], ["x", 2], [102], 7, [103, null], [104, 4],
		[105, 5, 9], [1e300, 6]
	]}}}`))
	require.NoError(t, err)
	assert.Equal(t, 7, msg.Dropped)
	assert.Equal(t, []series.Pair{{Seconds: 100, Value: 1}, {Seconds: 104, Value: 4}}, msg.Updates[0].Batch)
}

func TestDecodeRejectsMalformedMessages(t *testing.T) {
	cases := map[string]string{
		"not json":              `{"current_experiment":`,
		"array":                 `[1, 2]`,
		"missing experiment":    `{"updates":{}}`,
		"experiment not string": `{"current_experiment":5,"updates":{}}`,
		"experiment null":       `{"current_experiment":null,"updates":{}}`,
		"missing updates":       `{"current_experiment":"A"}`,
		"updates not object":    `{"current_experiment":"A","updates":[]}`,
		"device not object":     `{"current_experiment":"A","updates":{"d":[]}}`,
		"observable not array":  `{"current_experiment":"A","updates":{"d":{"o":{"t":1}}}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			var msgErr *MessageError
			require.True(t, errors.As(err, &msgErr), "got %v", err)
		})
	}
}
