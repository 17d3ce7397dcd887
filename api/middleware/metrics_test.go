package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type recordedObservation struct {
	method string
	route  string
	status int
}

type observerStub struct {
	got []recordedObservation
}

func (o *observerStub) Observe(method, route string, status int, _ time.Duration) {
	o.got = append(o.got, recordedObservation{method: method, route: route, status: status})
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	obs := &observerStub{}
	r := chi.NewRouter()
	r.Use(Metrics(obs))
	r.Get("/orders/{order}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/991", nil))

	if len(obs.got) != 1 {
		t.Fatalf("expected one observation got %d", len(obs.got))
	}
	want := recordedObservation{method: http.MethodGet, route: "/orders/{order}", status: http.StatusNotFound}
	if obs.got[0] != want {
		t.Fatalf("expected %+v got %+v", want, obs.got[0])
	}
}
