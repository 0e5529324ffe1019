package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/backends"
	"github.com/linnemanlabs/aegis/internal/triage"
)

func features() []float64 { return make([]float64, alert.FeatureArity) }

func TestCall_Predicts(t *testing.T) {
	t.Parallel()

	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		gotModel = req.ModelName
		if len(req.Features) != alert.FeatureArity {
			t.Errorf("got %d features", len(req.Features))
		}
		_ = json.NewEncoder(w).Encode(predictResponse{
			Prediction:    "DDoS",
			Confidence:    0.98,
			Probabilities: map[string]float64{"DDoS": 0.98, "BENIGN": 0.02},
			ModelUsed:     "random_forest",
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	res, err := c.Call(context.Background(), features())
	if err != nil {
		t.Fatal(err)
	}
	if res.Label != triage.LabelAttack {
		t.Errorf("label = %s, want ATTACK", res.Label)
	}
	if res.Prediction != "DDoS" || res.Model != "random_forest" {
		t.Errorf("result = %+v", res)
	}
	if gotModel != "random_forest" {
		t.Errorf("requested model = %q, want chain head", gotModel)
	}
}

func TestCall_BenignLabel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(predictResponse{Prediction: "benign", Confidence: 0.91})
	}))
	defer srv.Close()

	res, err := New(Config{BaseURL: srv.URL}).Call(context.Background(), features())
	if err != nil {
		t.Fatal(err)
	}
	if res.Label != triage.LabelBenign {
		t.Errorf("label = %s, want BENIGN for case-insensitive benign", res.Label)
	}
}

func TestCall_ModelFallbackChain(t *testing.T) {
	t.Parallel()

	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		models = append(models, req.ModelName)
		if req.ModelName != "decision_tree" {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(predictResponse{Prediction: "PortScan", Confidence: 0.7})
	}))
	defer srv.Close()

	res, err := New(Config{BaseURL: srv.URL}).Call(context.Background(), features())
	if err != nil {
		t.Fatal(err)
	}
	if res.Prediction != "PortScan" {
		t.Errorf("prediction = %q", res.Prediction)
	}
	want := []string{"random_forest", "xgboost", "decision_tree"}
	if len(models) != 3 || models[0] != want[0] || models[1] != want[1] || models[2] != want[2] {
		t.Errorf("model chain = %v, want %v", models, want)
	}
}

func TestCall_ErrorTaxonomy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "5xx maps to unavailable",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", http.StatusBadGateway)
			},
			want: backends.ErrBackendUnavailable,
		},
		{
			name: "malformed body maps to bad response",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("{not json"))
			},
			want: backends.ErrBadResponse,
		},
		{
			name: "confidence out of range maps to bad response",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(predictResponse{Prediction: "DDoS", Confidence: 1.7})
			},
			want: backends.ErrBadResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			// single model keeps the fallback chain out of the way
			c := New(Config{BaseURL: srv.URL, Models: []string{"random_forest"}})
			_, err := c.Call(context.Background(), features())
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCall_DeadlineMapsToTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects the client disconnect and
		// cancels the request context; otherwise srv.Close deadlocks.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(Config{BaseURL: srv.URL, Models: []string{"random_forest"}}).Call(ctx, features())
	if !errors.Is(err, backends.ErrBackendTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestHealthy(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if !New(Config{BaseURL: srv.URL}).Healthy(context.Background()) {
		t.Error("healthy endpoint reported unhealthy")
	}

	srv.Close()
	if New(Config{BaseURL: srv.URL}).Healthy(context.Background()) {
		t.Error("closed server reported healthy")
	}
}
