package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RMahshie/fetbench/internal/feed"
	"github.com/RMahshie/fetbench/pkg/models"
)

func TestRecorderObservesRun(t *testing.T) {
	r := NewRecorder()

	r.Observe(feed.StatusChanged("running", "ID-VD sweep started"))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.state.WithLabelValues("running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.state.WithLabelValues("idle")))

	for i := 1; i <= 3; i++ {
		r.Observe(feed.Data(models.MeasurementPoint{
			Seq:         i,
			Axis:        models.AxisVD,
			ProgressPct: float64(i) / 3 * 100,
			Timestamp:   time.Now(),
		}))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(r.points.WithLabelValues("VD")))
	assert.Equal(t, 100.0, testutil.ToFloat64(r.progress))

	r.Observe(feed.StatusChanged("completed", "sweep completed"))
	r.Observe(feed.Complete("completed", "sweep completed"))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.state.WithLabelValues("completed")))

	r.Observe(feed.Error("VG read: timeout"))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("failed")))
}

func TestProgressResetsOnlyForNewRuns(t *testing.T) {
	tests := []struct {
		name   string
		events []feed.Event
		want   float64
	}{
		{
			name: "resume keeps progress",
			events: []feed.Event{
				feed.StatusChanged("paused", "paused"),
				feed.StatusChanged("running", "continuing"),
			},
			want: 40,
		},
		{
			name: "new run after completion starts at zero",
			events: []feed.Event{
				feed.StatusChanged("completed", "sweep completed"),
				feed.StatusChanged("running", "resumed"),
			},
			want: 0,
		},
		{
			name: "first point of the next run replaces the old value",
			events: []feed.Event{
				feed.StatusChanged("stopped", "sweep stopped"),
				feed.Data(models.MeasurementPoint{Seq: 1, Axis: models.AxisVG, ProgressPct: 5}),
			},
			want: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecorder()
			r.Observe(feed.StatusChanged("running", "ID-VG sweep started"))
			r.Observe(feed.Data(models.MeasurementPoint{Seq: 2, Axis: models.AxisVG, ProgressPct: 40}))

			for _, e := range tt.events {
				r.Observe(e)
			}
			assert.Equal(t, tt.want, testutil.ToFloat64(r.progress))
		})
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	r := NewRecorder()
	r.Observe(feed.Data(models.MeasurementPoint{Axis: models.AxisVG, ProgressPct: 50}))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `fetbench_points_total{axis="VG"} 1`)
	assert.Contains(t, body, "fetbench_sweep_progress_percent 50")
	assert.Contains(t, body, "go_goroutines")
}
