package application

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvhistory/internal/history/domain/record"
	"pvhistory/internal/history/domain/series"
	"pvhistory/internal/history/infrastructure/memory"
)

func threeInverters() []*fakeDevice {
	return []*fakeDevice{
		{name: "A", daily: []series.Sample{
			series.Reading(time.Date(2022, 12, 31, 23, 58, 0, 0, time.UTC), 100),
			series.Reading(utcDay(2).Add(3*time.Second), 150),
			series.Reading(utcDay(3), 210),
		}},
		{name: "B", daily: []series.Sample{
			series.Reading(utcDay(1), 50),
			series.Reading(utcDay(2), 80),
			series.Reading(utcDay(3), 130),
		}},
		{name: "C", daily: []series.Sample{
			series.Reading(utcDay(1), 200),
			series.Missing(utcDay(2)),
			series.Reading(utcDay(3), 260),
		}},
	}
}

func newTestService(t *testing.T, devs []*fakeDevice, store Store, now time.Time) *Service {
	t.Helper()
	var driver *Driver
	if len(devs) > 0 {
		var err error
		driver, err = NewDriver(devices(devs...))
		require.NoError(t, err)
	}
	svc, err := NewService(driver, store, time.UTC, WithClock(fixedClock{now: now}))
	require.NoError(t, err)
	return svc
}

func values(records []record.Record) []int64 {
	out := make([]int64, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.IntValue())
	}
	return out
}

func TestProduction_DailyDeltasWithStrictSite(t *testing.T) {
	store := memory.NewRecordStore()
	svc := newTestService(t, threeInverters(), store, utcDay(10))

	report := svc.Production(context.Background(), ProductionJob{
		Start:   utcDay(1),
		Stop:    utcDay(2),
		Periods: []series.Period{series.PeriodToday},
	})
	require.NoError(t, report.Err)
	require.Len(t, report.Windows, 2)
	require.Equal(t, 1, store.Writes())

	assert.Equal(t, []int64{50, 60}, values(store.Find("production", "today", record.TagInverter, "A")))
	assert.Equal(t, []int64{30, 50}, values(store.Find("production", "today", record.TagInverter, "B")))
	assert.Empty(t, store.Find("production", "today", record.TagInverter, "C"))
	assert.Empty(t, store.Find("production", "today", record.TagInverter, series.SiteDevice))

	for _, w := range report.Windows {
		assert.False(t, w.Complete)
		assert.Equal(t, 3, w.Expected)
		assert.Equal(t, 2, w.Merged)
	}
	first := store.Find("production", "today", record.TagInverter, "A")[0]
	assert.True(t, first.At.Equal(utcDay(1)))
	assert.Equal(t, record.Integer, first.Kind)
}

func TestProduction_MonthWindowIncludesClosingMidnight(t *testing.T) {
	var daily []series.Sample
	for d := 0; d <= 31; d++ {
		daily = append(daily, series.Reading(utcDay(1).AddDate(0, 0, d), float64(1000+10*d)))
	}
	store := memory.NewRecordStore()
	svc := newTestService(t, []*fakeDevice{{name: "A", daily: daily}}, store, utcDay(1).AddDate(0, 2, 0))

	report := svc.Production(context.Background(), ProductionJob{
		Start:   utcDay(5),
		Stop:    utcDay(20),
		Periods: []series.Period{series.PeriodMonth},
	})
	require.NoError(t, report.Err)
	require.Len(t, report.Windows, 1)
	require.True(t, report.Windows[0].Complete)

	assert.Equal(t, []int64{310}, values(store.Find("production", "month", record.TagInverter, "A")))
	assert.Equal(t, []int64{310}, values(store.Find("production", "month", record.TagInverter, series.SiteDevice)))
}

func TestDailyHistory_MidnightTotals(t *testing.T) {
	store := memory.NewRecordStore()
	svc := newTestService(t, threeInverters(), store, utcDay(3).Add(8*time.Hour))

	report := svc.DailyHistory(context.Background(), DailyHistoryJob{Start: utcDay(1), Stop: utcDay(3)})
	require.NoError(t, report.Err)
	require.Len(t, report.Windows, 1)

	assert.Equal(t, []int64{100, 150, 210}, values(store.Find("production", "midnight", record.TagInverter, "A")))
	assert.Equal(t, []int64{200, 200, 260}, values(store.Find("production", "midnight", record.TagInverter, "C")))
	assert.Equal(t, []int64{350, 430, 600}, values(store.Find("production", "midnight", record.TagInverter, series.SiteDevice)))
	assert.True(t, report.Windows[0].Complete)
}

func TestDailyHistory_HistoryFixShiftsEarlierDays(t *testing.T) {
	store := memory.NewRecordStore()
	dev := &fakeDevice{name: "A", daily: []series.Sample{
		series.Reading(utcDay(2), 10),
		series.Reading(utcDay(3), 20),
		series.Reading(utcDay(4), 25),
		series.Reading(utcDay(5), 30),
	}}
	svc := newTestService(t, []*fakeDevice{dev}, store, utcDay(6))

	report := svc.DailyHistory(context.Background(), DailyHistoryJob{Start: utcDay(1), Stop: utcDay(5), HistoryFix: utcDay(4)})
	require.NoError(t, report.Err)

	got := store.Find("production", "midnight", record.TagInverter, "A")
	require.Len(t, got, 5)
	assert.Equal(t, []int64{10, 20, 20, 20, 30}, values(got))
	assert.True(t, got[0].At.Equal(utcDay(1)))
}

func TestFineHistory_ForwardFillsAndSkipsBaseline(t *testing.T) {
	start := utcDay(1).Add(-5 * time.Minute)
	var a, b []series.Sample
	for i := 0; i < 288; i++ {
		at := start.Add(time.Duration(i) * 5 * time.Minute)
		if at.Equal(utcDay(1).Add(12 * time.Hour)) {
			a = append(a, series.Missing(at))
		} else {
			a = append(a, series.Reading(at, float64(1000+i)))
		}
		if !at.Before(utcDay(1).Add(time.Hour)) {
			b = append(b, series.Reading(at, float64(5000+i)))
		}
	}
	store := memory.NewRecordStore()
	svc := newTestService(t, []*fakeDevice{{name: "A", fine: a}, {name: "B", fine: b}}, store, utcDay(1).Add(23*time.Hour+59*time.Minute))

	report := svc.FineHistory(context.Background(), FineHistoryJob{Start: utcDay(1)})
	require.NoError(t, report.Err)
	require.Len(t, report.Windows, 1)
	assert.False(t, report.Windows[0].Complete)

	gotA := store.Find("production", "total_wh", record.TagInverter, "A")
	require.Len(t, gotA, 288)
	assert.True(t, gotA[287].At.Equal(utcDay(2).Add(-5*time.Minute)))
	assert.True(t, gotA[0].At.Equal(utcDay(1)))
	noon := utcDay(1).Add(12 * time.Hour)
	for i, rec := range gotA {
		if rec.At.Equal(noon) {
			assert.Equal(t, gotA[i-1].Value, rec.Value)
		}
	}

	assert.Len(t, store.Find("production", "total_wh", record.TagInverter, "B"), 276)
	assert.Len(t, store.Find("production", "total_wh", record.TagInverter, series.SiteDevice), 276)
}

func TestFineHistory_EveryDayEndsWithLastBucket(t *testing.T) {
	now := utcDay(3).Add(12 * time.Hour)
	origin := utcDay(1).Add(-5 * time.Minute)
	var fine []series.Sample
	for at := origin; !at.After(now); at = at.Add(5 * time.Minute) {
		fine = append(fine, series.Reading(at, float64(at.Sub(origin)/time.Minute)))
	}
	store := memory.NewRecordStore()
	svc := newTestService(t, []*fakeDevice{{name: "A", fine: fine}}, store, now)

	report := svc.FineHistory(context.Background(), FineHistoryJob{Start: utcDay(1)})
	require.NoError(t, report.Err)
	require.Len(t, report.Windows, 3)

	got := store.Find("production", "total_wh", record.TagInverter, "A")
	require.Len(t, got, 288+288+145)
	byTime := make(map[int64]int64, len(got))
	for _, rec := range got {
		_, dup := byTime[rec.At.Unix()]
		require.False(t, dup, "duplicate record at %s", rec.At)
		byTime[rec.At.Unix()] = rec.IntValue()
	}
	for _, day := range []time.Time{utcDay(2), utcDay(3)} {
		last := day.Add(-5 * time.Minute)
		v, ok := byTime[last.Unix()]
		require.True(t, ok, "missing %s", last)
		assert.Equal(t, int64(last.Sub(origin)/time.Minute), v)
	}
}

func TestProduction_UnavailableDeviceReportedOnce(t *testing.T) {
	store := memory.NewRecordStore()
	devs := []*fakeDevice{
		{name: "A", daily: []series.Sample{series.Reading(utcDay(1), 10), series.Reading(utcDay(2), 25)}},
		{name: "B", failOpen: 100},
		{name: "C", daily: []series.Sample{series.Reading(utcDay(9), 1)}},
	}
	svc := newTestService(t, devs, store, utcDay(10))

	report := svc.Production(context.Background(), ProductionJob{
		Start:   utcDay(1),
		Stop:    utcDay(1),
		Periods: []series.Period{series.PeriodToday},
	})
	require.NoError(t, report.Err)
	require.Len(t, report.Windows, 1)
	w := report.Windows[0]
	assert.Equal(t, []string{"B"}, w.Unavailable)
	assert.False(t, w.Complete)

	perDevice := map[string]int{}
	for _, issue := range w.Issues {
		perDevice[issue.Device]++
	}
	assert.Equal(t, map[string]int{"B": 1, "C": 1, series.SiteDevice: 1}, perDevice)
	for _, issue := range w.Issues {
		if issue.Device == "B" {
			assert.ErrorIs(t, issue, ErrDeviceUnavailable)
		}
	}
	assert.Equal(t, []int64{15}, values(store.Find("production", "today", record.TagInverter, "A")))
}

func TestDailyHistory_SkippedMidnightOnlyDropsAffectedReading(t *testing.T) {
	loc, err := time.LoadLocation("America/Havana")
	if err != nil {
		t.Skipf("zone unavailable: %v", err)
	}
	// Cuba starts DST at 00:00, so 2023-03-12 has no local midnight.
	var daily []series.Sample
	for d := 5; d <= 17; d++ {
		daily = append(daily, series.Reading(time.Date(2023, 3, d, 23, 30, 0, 0, loc), float64(100+10*d)))
	}
	driver, err := NewDriver(devices(&fakeDevice{name: "A", daily: daily}))
	require.NoError(t, err)
	store := memory.NewRecordStore()
	svc, err := NewService(driver, store, loc, WithClock(fixedClock{now: time.Date(2023, 3, 20, 0, 0, 0, 0, loc)}))
	require.NoError(t, err)

	report := svc.DailyHistory(context.Background(), DailyHistoryJob{
		Start: time.Date(2023, 3, 6, 0, 0, 0, 0, loc),
		Stop:  time.Date(2023, 3, 18, 0, 0, 0, 0, loc),
	})
	require.NoError(t, report.Err)
	require.Len(t, report.Windows, 1)
	var ambiguous int
	for _, issue := range report.Windows[0].Issues {
		if issue.Kind == series.IssueAlignmentAmbiguity {
			ambiguous++
		}
	}
	assert.Equal(t, 1, ambiguous)

	got := store.Find("production", "midnight", record.TagInverter, "A")
	require.Len(t, got, 13)
	for i, rec := range got {
		day := rec.At.In(loc)
		require.Equal(t, 6+i, day.Day())
		if day.Day() == 12 {
			assert.Equal(t, 1, day.Hour())
			assert.Equal(t, int64(100+10*10), rec.IntValue())
			continue
		}
		assert.Equal(t, int64(100+10*(day.Day()-1)), rec.IntValue())
	}

	store = memory.NewRecordStore()
	svc, err = NewService(driver, store, loc, WithClock(fixedClock{now: time.Date(2023, 3, 20, 0, 0, 0, 0, loc)}))
	require.NoError(t, err)
	report = svc.Production(context.Background(), ProductionJob{
		Start:   time.Date(2023, 3, 10, 0, 0, 0, 0, loc),
		Stop:    time.Date(2023, 3, 14, 0, 0, 0, 0, loc),
		Periods: []series.Period{series.PeriodToday},
	})
	require.NoError(t, report.Err)
	require.Len(t, report.Windows, 5)
	today := store.Find("production", "today", record.TagInverter, "A")
	require.Len(t, today, 3)
	for i, d := range []int{10, 13, 14} {
		assert.True(t, today[i].At.Equal(time.Date(2023, 3, d, 0, 0, 0, 0, loc)), "day %d", d)
		assert.Equal(t, int64(10), today[i].IntValue())
	}
}

func TestIrradianceAndPatches(t *testing.T) {
	store := memory.NewRecordStore()
	svc := newTestService(t, nil, store, utcDay(2))
	at := utcDay(1).Add(10 * time.Hour)

	measured, err := series.New(SunMeasured, series.Gauge, []series.Sample{series.Reading(at, 512.34)})
	require.NoError(t, err)
	working, err := series.New(SunWorking, series.Gauge, []series.Sample{series.Missing(at), series.Reading(at.Add(time.Minute), 31.06)})
	require.NoError(t, err)

	report := svc.Irradiance(context.Background(), fakeSource{series: []series.Series{measured, working}})
	require.NoError(t, report.Err)
	require.Equal(t, 2, report.Records)

	sun := store.Find("sun", "irradiance", record.TagType, SunMeasured)
	require.Len(t, sun, 1)
	assert.Equal(t, "512.3", sun[0].Literal())
	temp := store.Find("sun", "temperature", record.TagType, SunWorking)
	require.Len(t, temp, 1)
	assert.Equal(t, "31.1", temp[0].Literal())

	report = svc.Patches(context.Background(), []Patch{
		{Measurement: "production", Inverter: "site", Field: "today", Value: "800", At: at},
		{Measurement: "production", Inverter: "site", Field: "month", Value: "oops", At: at},
	})
	require.NoError(t, report.Err)
	require.Equal(t, 1, report.Records)
	assert.Equal(t, "800i", store.Find("production", "today", record.TagInverter, "site")[0].Literal())

	report = svc.Production(context.Background(), ProductionJob{Start: utcDay(1), Stop: utcDay(1)})
	require.ErrorIs(t, report.Err, ErrNoDevices)
}

func TestRun_StoreErrorStopsRunUnmodified(t *testing.T) {
	store := &failingStore{err: errStoreDown}
	svc := newTestService(t, threeInverters(), store, utcDay(10))

	summary, err := svc.Run(context.Background(), Plan{
		Production:   &ProductionJob{Start: utcDay(1), Stop: utcDay(2), Periods: []series.Period{series.PeriodToday}},
		DailyHistory: &DailyHistoryJob{Start: utcDay(1), Stop: utcDay(3)},
	})
	require.Equal(t, errStoreDown, err)
	require.Equal(t, 1, store.calls)
	require.Len(t, summary.Jobs, 1)
	require.True(t, summary.Failed())
	require.NotEmpty(t, summary.RunID)
}

func TestRun_ExecutesPlannedJobs(t *testing.T) {
	store := memory.NewRecordStore()
	svc := newTestService(t, threeInverters(), store, utcDay(10))

	summary, err := svc.Run(context.Background(), Plan{
		Production:   &ProductionJob{Start: utcDay(1), Stop: utcDay(2), Periods: []series.Period{series.PeriodToday}},
		DailyHistory: &DailyHistoryJob{Start: utcDay(1), Stop: utcDay(3)},
	})
	require.NoError(t, err)
	require.Len(t, summary.Jobs, 2)
	assert.Equal(t, JobProduction, summary.Jobs[0].Name)
	assert.Equal(t, JobDailyHistory, summary.Jobs[1].Name)
	assert.Len(t, summary.Incomplete(), 2)
	assert.Equal(t, 2, store.Writes())
	assert.Equal(t, summary.Jobs[0].Records+summary.Jobs[1].Records, summary.Records())
}

func TestPeriodWindows_SpanYearBoundary(t *testing.T) {
	windows, err := periodWindows(series.PeriodMonth, time.UTC, time.Date(2022, 11, 15, 0, 0, 0, 0, time.UTC), time.Date(2023, 2, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, windows, 4)
	assert.True(t, windows[0].Start.Equal(time.Date(2022, 11, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, windows[3].Stop.Equal(time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)))
}
