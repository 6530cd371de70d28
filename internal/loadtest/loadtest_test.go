package loadtest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/lifeboat/internal/adapters/http/api"
	service "github.com/okian/lifeboat/internal/app"
	"github.com/okian/lifeboat/internal/domain/classifier"
	"github.com/okian/lifeboat/pkg/logger"
)

func init() {
	_ = logger.Init()
}

// newTarget serves the real API backed by the frozen test forest.
func newTarget(t *testing.T, withModel bool) *httptest.Server {
	t.Helper()
	opts := []service.Option{service.WithWorkerCount(2), service.WithChunkSize(4)}
	if withModel {
		clf, err := classifier.Load("../domain/classifier/testdata/forest.json")
		if err != nil {
			t.Fatalf("load forest: %v", err)
		}
		opts = append(opts, service.WithClassifier(clf))
	}
	svc := service.New(opts...)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	mux := http.NewServeMux()
	api.NewServer(svc, svc).Register(context.Background(), mux)
	srv := httptest.NewServer(api.Handler(mux, ""))
	t.Cleanup(func() {
		srv.Close()
		svc.Stop()
	})
	return srv
}

func TestGenerator(t *testing.T) {
	Convey("Given generated passengers", t, func() {
		ps, err := generatePassengers(context.Background(), 200)
		So(err, ShouldBeNil)
		So(ps, ShouldHaveLength, 200)

		Convey("Then every field is inside the accepted domain", func() {
			for i, p := range ps {
				So(p.Pclass, ShouldBeBetweenOrEqual, 1, 3)
				So(p.Gender, ShouldBeIn, "male", "female")
				So(p.Age, ShouldBeBetweenOrEqual, 0, maxAge)
				So(p.SibSp, ShouldBeBetweenOrEqual, 0, maxRelatives-1)
				So(p.Embarked, ShouldBeIn, "S", "C", "Q")
				So(strings.HasSuffix(p.Name, "#"+itoa(i)), ShouldBeTrue)
				if p.Fare != nil {
					So(*p.Fare, ShouldBeBetweenOrEqual, 0, maxFare)
				}
			}
		})

		Convey("And chunking keeps every passenger in order", func() {
			batches := chunk(ps, 64)
			So(batches, ShouldHaveLength, 4)
			So(batches[3], ShouldHaveLength, 8)
			So(batches[1][0].Name, ShouldEqual, ps[64].Name)
			So(chunk(ps, 0), ShouldBeNil)
		})
	})

	Convey("Given a cancelled context", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := generatePassengers(ctx, 10)

		Convey("Then generation stops", func() {
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}

func itoa(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}

func TestVerification(t *testing.T) {
	Convey("Given a passenger and its prediction", t, func() {
		p := Passenger{Pclass: 3, Name: "Braund, Mr. Owen Harris #0"}
		good := Result{
			Survived:            0,
			SurvivalProbability: 0.2,
			DeathProbability:    0.8,
			PassengerInfo:       PassengerInfo{Name: p.Name, Class: 3},
		}

		Convey("Then a consistent result passes", func() {
			So(verifyResult(p, good), ShouldBeNil)
		})

		Convey("Then probabilities must sum to one", func() {
			bad := good
			bad.DeathProbability = 0.9
			So(errors.Is(verifyResult(p, bad), ErrVerification), ShouldBeTrue)
		})

		Convey("Then the label must follow the probabilities", func() {
			bad := good
			bad.Survived = 1
			So(verifyResult(p, bad), ShouldNotBeNil)
		})

		Convey("Then the echo must match", func() {
			bad := good
			bad.PassengerInfo.Name = "someone else"
			So(verifyResult(p, bad), ShouldNotBeNil)
		})

		Convey("Then batches are checked for count and order", func() {
			q := Passenger{Pclass: 1, Name: "Cumings, Mrs. John #1"}
			second := good
			second.PassengerInfo = PassengerInfo{Name: q.Name, Class: 1}

			So(verifyBatch([]Passenger{p, q}, BatchResult{Predictions: []Result{good, second}, TotalPassengers: 2}), ShouldBeNil)
			So(verifyBatch([]Passenger{p, q}, BatchResult{Predictions: []Result{second, good}, TotalPassengers: 2}), ShouldNotBeNil)
			So(verifyBatch([]Passenger{p, q}, BatchResult{Predictions: []Result{good}, TotalPassengers: 1}), ShouldNotBeNil)
		})
	})
}

func TestRunAgainstService(t *testing.T) {
	Convey("Given a running service with the test forest", t, func() {
		srv := newTarget(t, true)
		out := filepath.Join(t.TempDir(), "passengers.json")
		cfg := &Config{
			BaseURL:    srv.URL,
			Passengers: 40,
			BatchSize:  7,
			Workers:    4,
			Timeout:    5 * time.Second,
			OutputFile: out,
		}

		stats, err := Run(context.Background(), cfg)

		Convey("Then every response satisfies the invariants", func() {
			So(err, ShouldBeNil)
			So(stats.RunID, ShouldHaveLength, 36)
			So(stats.PredictionsOK, ShouldEqual, 40)
			So(stats.BatchesSubmitted, ShouldEqual, 6)
			So(stats.BatchesOK, ShouldEqual, 6)
			So(stats.Violations, ShouldEqual, 0)
		})

		Convey("Then the saved passengers can be replayed", func() {
			f, err := os.Open(out)
			So(err, ShouldBeNil)
			defer func() { _ = f.Close() }()
			ps, err := api.DecodePassengers(f)
			So(err, ShouldBeNil)
			So(ps, ShouldHaveLength, 40)
		})
	})

	Convey("Given a service without a model", t, func() {
		srv := newTarget(t, false)
		_, err := Run(context.Background(), &Config{BaseURL: srv.URL, Passengers: 1, Workers: 1, Timeout: time.Second})

		Convey("Then the run stops at the health check", func() {
			So(errors.Is(err, ErrServiceUnhealthy), ShouldBeTrue)
		})
	})

	Convey("Given a service answering inconsistent probabilities", t, func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status":"healthy","model_status":"loaded"}`))
		})
		mux.HandleFunc("/predict", func(w http.ResponseWriter, r *http.Request) {
			var p Passenger
			_ = json.NewDecoder(r.Body).Decode(&p)
			_ = json.NewEncoder(w).Encode(Result{
				Survived:            1,
				SurvivalProbability: 0.9,
				DeathProbability:    0.9,
				PassengerInfo:       PassengerInfo{Name: p.Name, Class: p.Pclass},
			})
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		stats, err := Run(context.Background(), &Config{BaseURL: srv.URL, Passengers: 5, Workers: 2, Timeout: time.Second})

		Convey("Then the run fails with violations", func() {
			So(errors.Is(err, ErrVerification), ShouldBeTrue)
			So(stats.Violations, ShouldEqual, 5)
		})
	})
}
