package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/lifeboat/internal/adapters/http/api"
	service "github.com/okian/lifeboat/internal/app"
	"github.com/okian/lifeboat/internal/domain/model"
	"github.com/okian/lifeboat/internal/domain/prediction"
	"github.com/okian/lifeboat/pkg/logger"
)

func init() {
	_ = logger.Init()
}

// mockDeps records what the handlers pass through and returns canned answers.
type mockDeps struct {
	mu        sync.Mutex
	loaded    bool
	err       error
	got       []model.RawPassenger
	info      model.ModelInfo
	batchSize int
}

func (m *mockDeps) Predict(_ context.Context, p model.RawPassenger) (model.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, p)
	if m.err != nil {
		return model.Result{}, m.err
	}
	return model.Result{
		Survived:            1,
		SurvivalProbability: 0.75,
		DeathProbability:    0.25,
		Summary:             model.SummaryOf(p),
	}, nil
}

func (m *mockDeps) PredictBatch(_ context.Context, ps []model.RawPassenger) (model.BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, ps...)
	m.batchSize = len(ps)
	if m.err != nil {
		return model.BatchResult{}, m.err
	}
	out := make([]model.Result, len(ps))
	for i, p := range ps {
		out[i] = model.Result{SurvivalProbability: 0.5, DeathProbability: 0.5, Summary: model.SummaryOf(p)}
	}
	return model.BatchResult{Predictions: out, TotalCount: len(out)}, nil
}

func (m *mockDeps) ModelLoaded() bool { return m.loaded }

func (m *mockDeps) ModelInfo(_ context.Context) (model.ModelInfo, error) {
	if !m.loaded {
		return model.ModelInfo{}, prediction.ErrModelUnavailable
	}
	return m.info, nil
}

type mockStats struct{}

func (mockStats) GetStats() map[string]interface{} {
	return map[string]interface{}{"predictions": 7, "started": true}
}

func newHandler(deps *mockDeps, origin string) http.Handler {
	mux := http.NewServeMux()
	api.NewServer(deps, mockStats{}).Register(context.Background(), mux)
	return api.Handler(mux, origin)
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeError(w *httptest.ResponseRecorder) errorBody {
	var e errorBody
	_ = json.Unmarshal(w.Body.Bytes(), &e)
	return e
}

const validPassenger = `{"pclass":3,"name":"Braund, Mr. Owen Harris","gender":"male","age":22,"sibsp":1,"parch":0,"fare":7.25,"embarked":"S"}`

func TestRootAndHealth(t *testing.T) {
	Convey("Given a server with a loaded model", t, func() {
		deps := &mockDeps{loaded: true}
		h := newHandler(deps, "")

		Convey("When GET /", func() {
			w := do(h, http.MethodGet, "/", "")
			var body map[string]interface{}
			So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)

			Convey("Then it reports online", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(body["status"], ShouldEqual, "online")
				So(body["message"], ShouldEqual, "Titanic Survival Prediction API")
				So(body["model_loaded"], ShouldEqual, true)
			})
		})

		Convey("When requesting an unknown path", func() {
			w := do(h, http.MethodGet, "/nope", "")

			Convey("Then it returns 404", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(decodeError(w).Code, ShouldEqual, "not_found")
			})
		})

		Convey("When GET /health", func() {
			w := do(h, http.MethodGet, "/health", "")
			var body struct {
				Status      string   `json:"status"`
				ModelStatus string   `json:"model_status"`
				Endpoints   []string `json:"endpoints"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)

			Convey("Then it is healthy with the model loaded", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(body.Status, ShouldEqual, "healthy")
				So(body.ModelStatus, ShouldEqual, api.ModelStatusLoaded)
				So(body.Endpoints, ShouldContain, "/predict/batch")
			})
		})

		Convey("When the model is missing", func() {
			deps.loaded = false
			w := do(h, http.MethodGet, "/health", "")

			Convey("Then health still answers 200", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"model_status":"not loaded"`)
			})
		})

		Convey("When POSTing to /health", func() {
			w := do(h, http.MethodPost, "/health", "{}")

			Convey("Then it returns 405 with Allow", func() {
				So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
				So(w.Header().Get("Allow"), ShouldEqual, http.MethodGet)
			})
		})
	})
}

func TestPredictEndpoint(t *testing.T) {
	Convey("Given a server with a loaded model", t, func() {
		deps := &mockDeps{loaded: true}
		h := newHandler(deps, "")

		Convey("When posting a valid passenger", func() {
			w := do(h, http.MethodPost, "/predict", validPassenger)
			var res model.Result
			So(json.Unmarshal(w.Body.Bytes(), &res), ShouldBeNil)

			Convey("Then the result is returned as JSON", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldStartWith, "application/json")
				So(res.Survived, ShouldEqual, 1)
				So(res.SurvivalProbability+res.DeathProbability, ShouldAlmostEqual, 1.0, 1e-9)
				So(res.Summary.Name, ShouldEqual, "Braund, Mr. Owen Harris")
				So(res.Summary.Class, ShouldEqual, 3)
			})
		})

		Convey("When numbers arrive as strings and optional fields are null", func() {
			w := do(h, http.MethodPost, "/predict",
				`{"pclass":"1","gender":" Female ","age":"38","sibsp":"1","parch":"0","fare":null,"cabin":null,"embarked":"c"}`)

			Convey("Then they are coerced with defaults", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.got, ShouldHaveLength, 1)
				p := deps.got[0]
				So(p.TicketClass, ShouldEqual, 1)
				So(p.Age, ShouldEqual, 38)
				So(p.SiblingsSpouses, ShouldEqual, 1)
				So(p.Fare, ShouldEqual, 7.25)
				So(p.Name, ShouldEqual, "Unknown")
				So(p.Cabin, ShouldEqual, "")
				So(p.EmbarkPort, ShouldEqual, "C")
			})
		})

		Convey("When a field fails validation", func() {
			cases := map[string]string{
				`{"gender":"male","age":22,"embarked":"S"}`:                           "pclass",
				`{"pclass":4,"gender":"male","age":22,"embarked":"S"}`:                "pclass",
				`{"pclass":3,"gender":"robot","age":22,"embarked":"S"}`:               "gender",
				`{"pclass":3,"gender":"male","age":"old","embarked":"S"}`:             "age",
				`{"pclass":3,"gender":"male","age":-1,"embarked":"S"}`:                "age",
				`{"pclass":3,"gender":"male","age":22,"sibsp":1.5,"embarked":"S"}`:    "sibsp",
				`{"pclass":3,"gender":"male","age":22,"fare":"cheap","embarked":"S"}`: "fare",
			}
			for body, field := range cases {
				w := do(h, http.MethodPost, "/predict", body)
				e := decodeError(w)
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
				So(e.Code, ShouldEqual, "validation_error")
				So(e.Message, ShouldContainSubstring, field)
			}
			So(deps.got, ShouldBeEmpty)
		})

		Convey("When the body is not JSON", func() {
			w := do(h, http.MethodPost, "/predict", "{not json")

			Convey("Then it returns 400", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeError(w).Code, ShouldEqual, "bad_request")
			})
		})

		Convey("When using GET", func() {
			w := do(h, http.MethodGet, "/predict", "")

			Convey("Then it returns 405", func() {
				So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
				So(w.Header().Get("Allow"), ShouldEqual, http.MethodPost)
			})
		})

		Convey("When the model is not loaded", func() {
			deps.err = prediction.ErrModelUnavailable
			w := do(h, http.MethodPost, "/predict", validPassenger)

			Convey("Then it returns 503", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(decodeError(w).Code, ShouldEqual, "model_unavailable")
			})
		})

		Convey("When scoring fails", func() {
			deps.err = prediction.NewPredictionError(fmt.Errorf("bad shape"))
			w := do(h, http.MethodPost, "/predict", validPassenger)
			e := decodeError(w)

			Convey("Then it returns 400 with the prediction message", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(e.Code, ShouldEqual, "prediction_error")
				So(e.Message, ShouldStartWith, "Prediction error: ")
			})
		})

		Convey("When an unexpected error occurs", func() {
			deps.err = fmt.Errorf("boom")
			w := do(h, http.MethodPost, "/predict", validPassenger)

			Convey("Then it returns 500 without leaking the cause", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				e := decodeError(w)
				So(e.Code, ShouldEqual, "internal_error")
				So(e.Message, ShouldNotContainSubstring, "boom")
			})
		})
	})
}

func TestPredictBatchEndpoint(t *testing.T) {
	Convey("Given a server with a loaded model", t, func() {
		deps := &mockDeps{loaded: true}
		h := newHandler(deps, "")

		Convey("When posting three passengers", func() {
			body := `{"passengers":[` + validPassenger + `,` +
				`{"pclass":1,"name":"A","gender":"female","age":30,"embarked":"C"},` +
				`{"pclass":2,"name":"B","gender":"male","age":40,"embarked":"Q"}]}`
			w := do(h, http.MethodPost, "/predict/batch", body)
			var res model.BatchResult
			So(json.Unmarshal(w.Body.Bytes(), &res), ShouldBeNil)

			Convey("Then results keep the input order", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(res.TotalCount, ShouldEqual, 3)
				So(res.Predictions, ShouldHaveLength, 3)
				So(res.Predictions[1].Summary.Name, ShouldEqual, "A")
				So(res.Predictions[2].Summary.Name, ShouldEqual, "B")
			})
		})

		Convey("When posting an empty list", func() {
			w := do(h, http.MethodPost, "/predict/batch", `{"passengers":[]}`)

			Convey("Then it returns zero results", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"total_passengers":0`)
				So(w.Body.String(), ShouldContainSubstring, `"predictions":[]`)
			})
		})

		Convey("When passengers is missing", func() {
			w := do(h, http.MethodPost, "/predict/batch", `{}`)

			Convey("Then it returns 422", func() {
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
			})
		})

		Convey("When one passenger is invalid", func() {
			body := `{"passengers":[` + validPassenger + `,{"pclass":3,"gender":"x","age":1,"embarked":"S"}]}`
			w := do(h, http.MethodPost, "/predict/batch", body)
			e := decodeError(w)

			Convey("Then the whole batch fails naming the index", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(e.Code, ShouldEqual, "prediction_error")
				So(e.Message, ShouldStartWith, "Batch prediction error: ")
				So(e.Message, ShouldContainSubstring, "passenger 1")
				So(e.Message, ShouldContainSubstring, "gender")
				So(deps.batchSize, ShouldEqual, 0)
			})
		})

		Convey("When the queue is saturated", func() {
			deps.err = service.ErrBackpressure
			w := do(h, http.MethodPost, "/predict/batch", `{"passengers":[`+validPassenger+`]}`)

			Convey("Then it returns 429", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				So(decodeError(w).Code, ShouldEqual, "backpressure")
			})
		})

		Convey("When the service is shutting down", func() {
			deps.err = service.ErrShuttingDown
			w := do(h, http.MethodPost, "/predict/batch", `{"passengers":[`+validPassenger+`]}`)

			Convey("Then it returns 503", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(decodeError(w).Code, ShouldEqual, "shutting_down")
			})
		})

		Convey("When the batch is too large", func() {
			deps.err = fmt.Errorf("%w: 2000 > 1000", service.ErrBatchTooLarge)
			w := do(h, http.MethodPost, "/predict/batch", `{"passengers":[`+validPassenger+`]}`)

			Convey("Then it returns 400", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeError(w).Code, ShouldEqual, "bad_request")
			})
		})
	})
}

func TestModelInfoStatsAndMetrics(t *testing.T) {
	Convey("Given a server", t, func() {
		deps := &mockDeps{loaded: true, info: model.ModelInfo{
			ModelType:   "RandomForestClassifier",
			NEstimators: 3,
			MaxDepth:    2,
			Features:    model.FeatureNames[:],
		}}
		h := newHandler(deps, "")

		Convey("When GET /model/info", func() {
			w := do(h, http.MethodGet, "/model/info", "")
			var info model.ModelInfo
			So(json.Unmarshal(w.Body.Bytes(), &info), ShouldBeNil)

			Convey("Then the metadata is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(info.ModelType, ShouldEqual, "RandomForestClassifier")
				So(info.NEstimators, ShouldEqual, 3)
				So(info.Features, ShouldHaveLength, model.FeatureCount)
			})
		})

		Convey("When the model is not loaded", func() {
			deps.loaded = false
			w := do(h, http.MethodGet, "/model/info", "")

			Convey("Then model info returns 503", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			})
		})

		Convey("When GET /stats", func() {
			w := do(h, http.MethodGet, "/stats", "")

			Convey("Then the provider output is encoded", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"predictions":7`)
			})
		})

		Convey("When GET /metrics after some traffic", func() {
			do(h, http.MethodPost, "/predict", validPassenger)
			w := do(h, http.MethodGet, "/metrics", "")

			Convey("Then HTTP metrics are exposed", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "lifeboat_prediction_http_requests_total")
			})
		})
	})
}

func TestMiddleware(t *testing.T) {
	Convey("Given a server with a CORS origin", t, func() {
		h := newHandler(&mockDeps{loaded: true}, "http://localhost:3000/")

		Convey("When a preflight arrives from the allowed origin", func() {
			req := httptest.NewRequest(http.MethodOptions, "/predict", http.NoBody)
			req.Header.Set("Origin", "http://localhost:3000")
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", "content-type")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			Convey("Then it is answered with 204 and CORS headers", func() {
				So(w.Code, ShouldEqual, http.StatusNoContent)
				So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "http://localhost:3000")
				So(w.Header().Get("Access-Control-Allow-Credentials"), ShouldEqual, "true")
				So(w.Header().Get("Access-Control-Allow-Methods"), ShouldContainSubstring, http.MethodPost)
				So(w.Header().Get("Access-Control-Allow-Headers"), ShouldEqual, "content-type")
			})
		})

		Convey("When a request comes from another origin", func() {
			req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
			req.Header.Set("Origin", "http://evil.example")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			Convey("Then no allow-origin header is set", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Access-Control-Allow-Origin"), ShouldBeEmpty)
				So(w.Header().Get("Vary"), ShouldEqual, "Origin")
			})
		})

		Convey("When a request carries an X-Request-ID", func() {
			req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
			req.Header.Set(api.RequestIDHeader, "abc-123")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			Convey("Then the id is echoed", func() {
				So(w.Header().Get(api.RequestIDHeader), ShouldEqual, "abc-123")
			})
		})

		Convey("When a request has no id or an oversized one", func() {
			w1 := do(h, http.MethodGet, "/health", "")
			req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
			req.Header.Set(api.RequestIDHeader, strings.Repeat("x", 200))
			w2 := httptest.NewRecorder()
			h.ServeHTTP(w2, req)

			Convey("Then a fresh uuid is assigned", func() {
				So(w1.Header().Get(api.RequestIDHeader), ShouldHaveLength, 36)
				So(w2.Header().Get(api.RequestIDHeader), ShouldHaveLength, 36)
			})
		})
	})

	Convey("Given the request id middleware alone", t, func() {
		var seen string
		h := api.RequestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			seen = api.RequestIDFrom(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.Header.Set(api.RequestIDHeader, "trace-1")
		h.ServeHTTP(httptest.NewRecorder(), req)

		Convey("Then handlers can read the id from context", func() {
			So(seen, ShouldEqual, "trace-1")
			So(api.RequestIDFrom(context.Background()), ShouldBeEmpty)
		})
	})
}
