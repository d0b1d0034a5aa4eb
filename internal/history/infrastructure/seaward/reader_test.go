package seaward

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	historyapp "pvhistory/internal/history/application"
)

const export = `Date,Time,Tpv,Ta,Irr,Irr Unit,Temp Unit
3.5.19,10:15,31.5,18.0,812.4,W/m2,C
3.5.19,10:20,ERR,18.5,<20,W/m2,C
3.5.19,10:25:30,32.0,ERR,799,W/m2,C
,,,,,,
3.5.19,10:30,1,1,1,W/m2,C
`

func TestParse_HandlesMeterQuirks(t *testing.T) {
	readings, err := Parse(strings.NewReader(export), time.UTC)
	require.NoError(t, err)
	require.Len(t, readings, 3)

	first := readings[0]
	require.True(t, first.At.Equal(time.Date(2019, 5, 3, 10, 15, 0, 0, time.UTC)))
	require.Equal(t, 812.4, first.Irradiance)
	require.Equal(t, 31.5, *first.Working)
	require.Equal(t, 18.0, *first.Ambient)

	second := readings[1]
	require.Equal(t, 0.0, second.Irradiance)
	require.Nil(t, second.Working)
	require.Equal(t, 18.5, *second.Ambient)

	require.Nil(t, readings[2].Ambient)
	require.Equal(t, 25, readings[2].At.Minute())
}

func TestParse_MissingColumn(t *testing.T) {
	_, err := Parse(strings.NewReader("Date,Time,Irr\n1.1.20,10:00,5\n"), time.UTC)
	require.ErrorIs(t, err, ErrMissingColumn)

	_, err = Parse(strings.NewReader("Date,Time,Tpv,Ta,Irr\n1.1.20,10:00,1,1,bad\n"), time.UTC)
	require.ErrorContains(t, err, "line 2")
}

func TestReader_ReadsCSVFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.csv"), []byte(export), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.CSV"), []byte("Date,Time,Tpv,Ta,Irr\n2.5.19,12:00,20,15,600\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore"), 0o600))

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	reader, err := NewReader(dir, time.UTC, logger)
	require.NoError(t, err)

	out, err := reader.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, historyapp.SunMeasured, out[0].Device)
	require.Equal(t, 4, out[0].Len())
	require.Equal(t, 600.0, out[0].Samples[0].Value)
	require.Equal(t, historyapp.SunWorking, out[1].Device)
	require.Equal(t, 3, out[1].ValidCount())
	require.Equal(t, historyapp.SunAmbient, out[2].Device)
	require.Equal(t, 3, out[2].ValidCount())
}
