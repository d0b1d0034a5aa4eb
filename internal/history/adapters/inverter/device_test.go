package inverter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	historyapp "pvhistory/internal/history/application"
	"pvhistory/internal/history/domain/series"
	"pvhistory/internal/smaadapter"
)

type stubClient struct {
	loginErr  error
	entries   []smaadapter.LogEntry
	lastKey   int
	lastEnd   time.Time
	loggedOut bool
}

func (c *stubClient) Login(ctx context.Context, group, password string) (string, error) {
	if c.loginErr != nil {
		return "", c.loginErr
	}
	return "sid", nil
}

func (c *stubClient) Logout(ctx context.Context, sid string) error {
	c.loggedOut = true
	return nil
}

func (c *stubClient) Logger(ctx context.Context, sid string, key int, start, end time.Time) ([]smaadapter.LogEntry, error) {
	c.lastKey, c.lastEnd = key, end
	return c.entries, nil
}

func value(v float64) *float64 { return &v }

func TestDevice_HistoryMapsEntries(t *testing.T) {
	client := &stubClient{entries: []smaadapter.LogEntry{
		{T: 1672531500, V: value(12)},
		{T: 1672531200, V: value(10)},
		{T: 1672531800},
	}}
	dev, err := NewDevice("roof", "user", "pw", client)
	require.NoError(t, err)

	sess, err := dev.Open(context.Background())
	require.NoError(t, err)
	stop := time.Unix(1672617600, 0)
	s, err := sess.History(context.Background(), series.PeriodFine, time.Unix(1672531200, 0), stop)
	require.NoError(t, err)
	require.NoError(t, sess.Close(context.Background()))

	require.Equal(t, smaadapter.KeyFiveMinuteTotal, client.lastKey)
	require.True(t, client.lastEnd.Equal(stop.Add(-time.Second)))
	require.True(t, client.loggedOut)
	require.Equal(t, "roof", s.Device)
	require.Equal(t, 3, s.Len())
	require.Equal(t, 10.0, s.Samples[0].Value)
	require.False(t, s.Samples[2].Valid)
}

func TestDevice_ErrorClassification(t *testing.T) {
	dev, err := NewDevice("roof", "user", "pw", &stubClient{loginErr: smaadapter.ErrLoginFailed})
	require.NoError(t, err)
	_, err = dev.Open(context.Background())
	require.ErrorIs(t, err, historyapp.ErrDeviceUnavailable)

	dev, err = NewDevice("roof", "user", "pw", &stubClient{})
	require.NoError(t, err)
	sess, err := dev.Open(context.Background())
	require.NoError(t, err)
	_, err = sess.History(context.Background(), series.PeriodToday, time.Unix(0, 0), time.Unix(86400, 0))
	require.True(t, errors.Is(err, series.ErrNoData))

	_, err = NewDevice("", "user", "pw", &stubClient{})
	require.Error(t, err)
}
