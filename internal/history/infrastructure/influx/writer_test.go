package influx

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/require"

	"pvhistory/internal/history/domain/record"
)

func TestWriter_PostsBatchedLineProtocol(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/write", r.URL.Path)
		require.Equal(t, "s", r.URL.Query().Get("precision"))
		require.Equal(t, "solar", r.URL.Query().Get("bucket"))
		require.Equal(t, "home", r.URL.Query().Get("org"))
		require.Equal(t, "Token tkn", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, strings.TrimSpace(string(b)))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	writer, err := NewWriter(srv.URL, "home", "solar", "tkn", WithBatchSize(2))
	require.NoError(t, err)
	defer writer.Close()

	at := time.Unix(1672531200, 0)
	records := []record.Record{
		{Measurement: "production", Tags: map[string]string{"_inverter": "A"}, Field: "today", Value: 50, Kind: record.Integer, At: at},
		{Measurement: "production", Tags: map[string]string{"_inverter": "B"}, Field: "today", Value: 30, Kind: record.Integer, At: at},
		{Measurement: "sun", Tags: map[string]string{"_type": "measured"}, Field: "irradiance", Value: 812.3, Kind: record.Float, At: at},
	}
	require.NoError(t, writer.Write(context.Background(), records))

	require.Len(t, bodies, 2)
	require.Equal(t, "production,_inverter=A today=50i 1672531200\nproduction,_inverter=B today=30i 1672531200", bodies[0])
	require.True(t, strings.HasPrefix(bodies[1], "sun,_type=measured irradiance=812.3 "))
}

func TestWriter_SurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized access", http.StatusUnauthorized)
	}))
	defer srv.Close()

	writer, err := NewWriter(srv.URL, "", "solar", "")
	require.NoError(t, err)
	defer writer.Close()
	err = writer.Write(context.Background(), []record.Record{{Measurement: "m", Field: "f", Value: 1, At: time.Unix(1, 0)}})
	var httpErr *influxhttp.Error
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)

	err = writer.Write(context.Background(), []record.Record{{Measurement: "m"}})
	require.ErrorIs(t, err, record.ErrInvalidRecord)
}

func TestPoint_EncodesKindsAndEscapes(t *testing.T) {
	day := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		rec  record.Record
		want string
	}{
		{
			rec:  record.Record{Measurement: "production", Tags: map[string]string{"_inverter": "roof west"}, Field: "today", Value: 122.6, Kind: record.Integer, At: day},
			want: `production,_inverter=roof\ west today=123i 1672617600`,
		},
		{
			rec:  record.Record{Measurement: "sun", Tags: map[string]string{"_type": "measured"}, Field: "irradiance", Value: 1.5, Kind: record.Float, At: day},
			want: "sun,_type=measured irradiance=1.5 1672617600",
		},
		{
			rec:  record.Record{Measurement: "patch,x", Field: "f=1", Value: 2, Kind: record.Float, At: day},
			want: `patch\,x f\=1=2 1672617600`,
		},
	}
	for _, tc := range cases {
		p, err := Point(tc.rec)
		require.NoError(t, err)
		require.Equal(t, tc.want, strings.TrimSpace(write.PointToLineProtocol(p, time.Second)))
	}

	_, err := Point(record.Record{Measurement: "m", Field: "f", At: day, Value: math.NaN(), Kind: record.Float})
	require.ErrorIs(t, err, record.ErrInvalidRecord)
}
