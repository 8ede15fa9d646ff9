package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/kpisim/internal/testutil"
)

func newTestRelay(t *testing.T, historySize int64) *Relay {
	t.Helper()

	_, client := testutil.NewMiniredisClient(t)

	return NewRelay(testutil.NewLogger(), &Config{
		URL:          "redis://localhost:6379",
		Prefix:       "kpisim",
		HistorySize:  historySize,
		WriteTimeout: time.Second,
	}, client)
}

func TestRecordAndReadKPIHistory(t *testing.T) {
	relay := newTestRelay(t, 3)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, relay.RecordKPI(ctx, PeriodDaily, KPIPoint{Time: i, Value: float64(i) / 10, CalcID: 1}))
	}

	all, err := relay.KPIHistory(ctx, PeriodDaily, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].Time)
	assert.Equal(t, int64(5), all[2].Time)

	latest, err := relay.KPIHistory(ctx, PeriodDaily, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, int64(4), latest[0].Time)

	weekly, err := relay.KPIHistory(ctx, PeriodWeekly, 0)
	require.NoError(t, err)
	assert.Empty(t, weekly)
}

func TestUnknownPeriod(t *testing.T) {
	relay := newTestRelay(t, 3)

	err := relay.RecordKPI(context.Background(), "monthly", KPIPoint{})
	require.ErrorIs(t, err, ErrUnknownPeriod)

	_, err = relay.KPIHistory(context.Background(), "monthly", 1)
	require.ErrorIs(t, err, ErrUnknownPeriod)
}

func TestResetKPI(t *testing.T) {
	relay := newTestRelay(t, 10)
	ctx := context.Background()

	require.NoError(t, relay.RecordKPI(ctx, PeriodDaily, KPIPoint{Time: 1}))
	require.NoError(t, relay.RecordKPI(ctx, PeriodWeekly, KPIPoint{Time: 1}))
	require.NoError(t, relay.ResetKPI(ctx))

	daily, err := relay.KPIHistory(ctx, PeriodDaily, 0)
	require.NoError(t, err)
	assert.Empty(t, daily)
}

func TestPublishMirrorsPayload(t *testing.T) {
	relay := newTestRelay(t, 10)
	ctx := context.Background()

	sub := relay.client.Subscribe(ctx, relay.Channel())
	t.Cleanup(func() { _ = sub.Close() })

	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	relay.Publish([]byte(`{"sim_time":1}`))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "kpisim:broadcast", msg.Channel)
		assert.JSONEq(t, `{"sim_time":1}`, msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("broadcast not mirrored")
	}
}

func TestConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "disabled", cfg: Config{}},
		{name: "valid", cfg: Config{URL: "redis://localhost:6379/0", HistorySize: 1, WriteTimeout: time.Second}},
		{name: "bad url", cfg: Config{URL: "http://x", HistorySize: 1, WriteTimeout: time.Second}, wantErr: true},
		{name: "bad history", cfg: Config{URL: "redis://localhost:6379", WriteTimeout: time.Second}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	cfg := &Config{Prefix: "kpisim"}
	assert.Equal(t, "kpisim:kpi:daily", cfg.PrefixKey("kpi:daily"))
	assert.Equal(t, "x", (&Config{}).PrefixKey("x"))

	_, err := New(&Config{})
	require.ErrorIs(t, err, ErrURLRequired)
}
