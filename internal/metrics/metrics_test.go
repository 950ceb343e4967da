package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/timebank/internal/ledger"
	"github.com/dukerupert/timebank/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

// sample returns the value of the named counter or gauge, or a histogram's
// sample count, whose labels include every given pair.
func sample(m *Manager, name string, labels map[string]string) float64 {
	families, err := m.Registry().Gather()
	So(err, ShouldBeNil)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range mf.GetMetric() {
			for k, v := range labels {
				found := false
				for _, lp := range metric.GetLabel() {
					if lp.GetName() == k && lp.GetValue() == v {
						found = true
					}
				}
				if !found {
					continue metrics
				}
			}
			if h := metric.GetHistogram(); h != nil {
				return float64(h.GetSampleCount())
			}
			if g := metric.GetGauge(); g != nil {
				return g.GetValue()
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestManagerCreation(t *testing.T) {
	Convey("Given a metrics manager", t, func() {
		Convey("When created with a custom registry and namespace", func() {
			registry := prometheus.NewRegistry()
			m := NewManager(WithRegistry(registry), WithNamespace("test"), WithHistogramBuckets([]float64{0.1, 1}))

			Convey("Then metrics are registered there", func() {
				So(m.Registry(), ShouldEqual, registry)
				m.Transitioned(model.ProgressScheduled)
				So(sample(m, "test_progress_transitions_total", map[string]string{"status": "scheduled"}), ShouldEqual, 1)
			})
		})

		Convey("When two managers are created with defaults", func() {
			Convey("Then they do not collide", func() {
				So(func() {
					NewManager()
					NewManager()
				}, ShouldNotPanic)
			})
		})
	})
}

func TestSettlementMetrics(t *testing.T) {
	Convey("Given a metrics manager", t, func() {
		m := NewManager()

		Convey("When a full credit and a clamped credit are recorded", func() {
			m.Settled(model.SettledBySurvey, decimal.NewFromInt(2), decimal.NewFromInt(2))
			m.Settled(model.SettledBySweep, decimal.NewFromInt(3), decimal.NewFromInt(2))

			Convey("Then counters split by trigger", func() {
				So(sample(m, "timebank_ledger_settlements_total", map[string]string{"settled_by": "survey"}), ShouldEqual, 1)
				So(sample(m, "timebank_ledger_settlements_total", map[string]string{"settled_by": "sweep"}), ShouldEqual, 1)
				So(sample(m, "timebank_ledger_hours_debited_total", map[string]string{"settled_by": "sweep"}), ShouldEqual, 3)
				So(sample(m, "timebank_ledger_hours_credited_total", map[string]string{"settled_by": "sweep"}), ShouldEqual, 2)
				So(sample(m, "timebank_ledger_clamped_credits_total", nil), ShouldEqual, 1)
			})
		})

		Convey("When balance rejections are recorded", func() {
			m.BalanceRejected(ledger.SideConsumer)
			m.BalanceRejected(ledger.SideConsumer)
			m.BalanceRejected(ledger.SideProvider)

			Convey("Then they are counted per side", func() {
				So(sample(m, "timebank_ledger_balance_rejections_total", map[string]string{"side": "consumer"}), ShouldEqual, 2)
				So(sample(m, "timebank_ledger_balance_rejections_total", map[string]string{"side": "provider"}), ShouldEqual, 1)
			})
		})

		Convey("When a sweep completes", func() {
			m.SweepCompleted(3, 1, 2, 40*time.Millisecond)

			Convey("Then the run and its outcome are counted", func() {
				So(sample(m, "timebank_sweep_runs_total", nil), ShouldEqual, 1)
				So(sample(m, "timebank_sweep_settled_total", nil), ShouldEqual, 3)
				So(sample(m, "timebank_sweep_skipped_total", nil), ShouldEqual, 1)
				So(sample(m, "timebank_sweep_failed_total", nil), ShouldEqual, 2)
				So(sample(m, "timebank_sweep_duration_seconds", nil), ShouldEqual, 1)
			})
		})
	})
}

func TestBackupMetrics(t *testing.T) {
	Convey("Given a metrics manager", t, func() {
		m := NewManager()

		Convey("When one snapshot succeeds and one fails", func() {
			done := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
			m.BackupCompleted(&model.Backup{SizeBytes: 4096, CompletedAt: &done}, nil)
			m.BackupCompleted(&model.Backup{}, errors.New("upload failed"))

			Convey("Then both results are counted and the success is kept", func() {
				So(sample(m, "timebank_backup_runs_total", map[string]string{"result": "completed"}), ShouldEqual, 1)
				So(sample(m, "timebank_backup_runs_total", map[string]string{"result": "failed"}), ShouldEqual, 1)
				So(sample(m, "timebank_backup_last_size_bytes", nil), ShouldEqual, 4096)
				So(sample(m, "timebank_backup_last_success_timestamp_seconds", nil), ShouldEqual, float64(done.Unix()))
			})
		})
	})
}

func TestHTTPMetrics(t *testing.T) {
	Convey("Given a metrics manager", t, func() {
		m := NewManager()

		Convey("When requests are observed", func() {
			m.ObserveHTTP("POST /api/progress/{id}/confirm-start", http.MethodPost, http.StatusOK, time.Millisecond)
			m.ObserveHTTP("", http.MethodGet, http.StatusNotFound, time.Millisecond)

			Convey("Then they are labelled by route", func() {
				So(sample(m, "timebank_http_requests_total", map[string]string{
					"route": "POST /api/progress/{id}/confirm-start", "status_code": "200",
				}), ShouldEqual, 1)
				So(sample(m, "timebank_http_requests_total", map[string]string{"route": "unmatched"}), ShouldEqual, 1)
			})

			Convey("Then the handler exposes them", func() {
				rec := httptest.NewRecorder()
				m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(strings.Contains(rec.Body.String(), "timebank_http_requests_total"), ShouldBeTrue)
			})
		})
	})
}
