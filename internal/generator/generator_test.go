package generator

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/model"
	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/partition"
	"github.com/eidos-exchange/eidos/eidos-feedgen/pkg/kafka"
)

var hexValue = regexp.MustCompile(`^[0-9A-F]{12}$`)

func TestTrigger_Next(t *testing.T) {
	plan, err := partition.New(4)
	require.NoError(t, err)

	valid := map[string]bool{}
	for _, s := range plan.Spreads {
		valid[s.String()] = true
	}

	g := NewTrigger("active-streams", plan.Spreads, NewRand(42))
	trues, falses := 0, 0
	for i := 0; i < 500; i++ {
		msg, err := g.Next()
		require.NoError(t, err)

		var event model.TriggerEvent
		require.NoError(t, json.Unmarshal(msg.Value, &event))

		assert.Equal(t, "active-streams", msg.Topic)
		assert.Equal(t, event.Spread, string(msg.Key))
		assert.Equal(t, kafka.PartitionAny, msg.Partition)
		assert.Equal(t, event.AssetOne+"_"+event.AssetTwo, event.Spread)
		assert.NotEqual(t, event.AssetOne, event.AssetTwo)
		assert.True(t, valid[event.Spread], "unexpected spread %s", event.Spread)

		if event.Trigger {
			trues++
		} else {
			falses++
		}
	}
	assert.Positive(t, trues)
	assert.Positive(t, falses)
}

func TestTrigger_EventTypeHeader(t *testing.T) {
	g := NewTrigger("active-streams", partition.Spreads([]string{"A", "B"}), nil)
	msg, err := g.Next()
	require.NoError(t, err)

	v, ok := msg.Header(model.HeaderEventType)
	require.True(t, ok)
	assert.Equal(t, model.EventTypeTrigger, string(v))
	assert.Equal(t, partition.RoleTrigger, g.Role())
	assert.Empty(t, g.Asset())
}

func TestTrigger_EmptyUniverse(t *testing.T) {
	for _, n := range []int{1, 2} {
		plan, err := partition.New(n)
		require.NoError(t, err)

		g := NewTrigger("active-streams", plan.Spreads, NewRand(1))
		_, err = g.Next()
		assert.ErrorIs(t, err, ErrNothingToPublish, "n=%d", n)
	}
}

func TestTrigger_SeedDeterministic(t *testing.T) {
	spreads := partition.Spreads([]string{"A", "B", "C", "D"})
	a := NewTrigger("t", spreads, NewRand(7))
	b := NewTrigger("t", spreads, NewRand(7))

	for i := 0; i < 20; i++ {
		ma, err := a.Next()
		require.NoError(t, err)
		mb, err := b.Next()
		require.NoError(t, err)
		assert.Equal(t, ma.Value, mb.Value)
	}
}

func TestOrderbook_FixedValue(t *testing.T) {
	g, err := NewOrderbook("orderbook", "B", ValueModeFixed, nil)
	require.NoError(t, err)

	var first string
	for i := 0; i < 5; i++ {
		msg, err := g.Next()
		require.NoError(t, err)

		var event model.OrderbookEvent
		require.NoError(t, json.Unmarshal(msg.Value, &event))

		assert.Equal(t, "orderbook", msg.Topic)
		assert.Equal(t, "B", string(msg.Key))
		assert.Equal(t, kafka.PartitionAny, msg.Partition)
		assert.Equal(t, "B", event.Asset)
		assert.Regexp(t, hexValue, event.Value)

		if i == 0 {
			first = event.Value
		}
		assert.Equal(t, first, event.Value)
	}
}

func TestOrderbook_PerTickValue(t *testing.T) {
	entropy := bytes.NewReader([]byte{
		0x1f, 0x2e, 0x3a, 0x4b, 0x5c, 0x6d,
		0xab, 0xcd, 0xef, 0x01, 0x23, 0x45,
	})
	g, err := NewOrderbook("orderbook", "A", ValueModePerTick, entropy)
	require.NoError(t, err)

	msg, err := g.Next()
	require.NoError(t, err)
	assert.JSONEq(t, `{"asset":"A","value":"1F2E3A4B5C6D"}`, string(msg.Value))

	msg, err = g.Next()
	require.NoError(t, err)
	assert.JSONEq(t, `{"asset":"A","value":"ABCDEF012345"}`, string(msg.Value))

	// 随机源耗尽
	_, err = g.Next()
	assert.Error(t, err)
}

func TestOrderbook_Errors(t *testing.T) {
	_, err := NewOrderbook("orderbook", "A", ValueMode("random"), nil)
	assert.Error(t, err)

	_, err = NewOrderbook("orderbook", "A", ValueModeFixed, strings.NewReader("abc"))
	assert.Error(t, err)

	_, err = NewOrderbook("orderbook", "A", ValueModeFixed, iotestErrReader{})
	assert.Error(t, err)
}

type iotestErrReader struct{}

func (iotestErrReader) Read([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

func TestParseValueMode(t *testing.T) {
	tests := []struct {
		in      string
		want    ValueMode
		wantErr bool
	}{
		{"", ValueModeFixed, false},
		{"fixed", ValueModeFixed, false},
		{"per_tick", ValueModePerTick, false},
		{"PER_TICK", "", true},
		{"sometimes", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseValueMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_ByRole(t *testing.T) {
	plan, err := partition.New(3)
	require.NoError(t, err)
	opts := Options{TriggerTopic: "active", OrderbookTopic: "ob", ValueMode: ValueModeFixed}

	g, err := New(plan.Slots[0], plan, opts)
	require.NoError(t, err)
	assert.IsType(t, &Trigger{}, g)

	g, err = New(plan.Slots[2], plan, opts)
	require.NoError(t, err)
	assert.Equal(t, "B", g.Asset())

	msg, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, "ob", msg.Topic)

	_, err = New(partition.Slot{Index: 9, Role: partition.Role(9)}, plan, opts)
	assert.Error(t, err)
}
