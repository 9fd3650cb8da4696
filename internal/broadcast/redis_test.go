package broadcast

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leo/internal/logging"
)

func cursorMessages(c *Client) []int {
	var out []int
	for {
		select {
		case m := <-c.Outbound:
			if m.Type != TypeCursor {
				continue
			}
			var d CursorData
			if err := json.Unmarshal(m.Data, &d); err == nil {
				out = append(out, d.CurrentStep)
			}
		default:
			return out
		}
	}
}

func TestRedisRelaySkipsOwnMessages(t *testing.T) {
	presenter := &RedisRelay{log: logging.Discard(), origin: "presenter"}
	mirror := &RedisRelay{log: logging.Discard(), origin: "mirror"}

	var wire [][]byte
	local := NewHub(logging.Discard())
	local.SetRelay(func(_ context.Context, m Message) error {
		raw, err := presenter.encode(m)
		wire = append(wire, raw)
		return err
	})
	remote := NewHub(logging.Discard())

	lc, err := local.Connect()
	require.NoError(t, err)
	rc, err := remote.Connect()
	require.NoError(t, err)

	require.NoError(t, local.UpdateCursor(context.Background(), 5))
	require.NoError(t, local.UpdateCursor(context.Background(), 7))
	require.Len(t, wire, 2)

	// both hubs subscribe to the same channel
	for _, raw := range wire {
		presenter.deliver(local, raw)
		mirror.deliver(remote, raw)
	}

	assert.Equal(t, []int{5, 7}, cursorMessages(lc), "no echo of local updates")
	assert.Equal(t, 7, local.State().CurrentStep)
	assert.Equal(t, []int{5, 7}, cursorMessages(rc))
	assert.Equal(t, 7, remote.State().CurrentStep)
}

func TestRedisRelayAcceptsForeignPayload(t *testing.T) {
	r := &RedisRelay{log: logging.Discard(), origin: "a"}

	msg, ok, err := r.decode([]byte(`{"type":"cursor","data":{"currentStep":3}}`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, TypeCursor, msg.Type)

	_, _, err = r.decode([]byte(`not json`))
	assert.Error(t, err)
}
