package prediction_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/okian/lifeboat/internal/domain/classifier"
	"github.com/okian/lifeboat/internal/domain/model"
	"github.com/okian/lifeboat/internal/domain/prediction"
	"github.com/okian/lifeboat/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
	"gonum.org/v1/gonum/mat"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

// stubClassifier returns canned outputs regardless of input.
type stubClassifier struct {
	classes []int
	proba   [][2]float64
	err     error
}

func (s *stubClassifier) PredictClass(mat.Matrix) ([]int, error)        { return s.classes, s.err }
func (s *stubClassifier) PredictProba(mat.Matrix) ([][2]float64, error) { return s.proba, s.err }
func (s *stubClassifier) Info() classifier.Info                         { return classifier.Info{ModelType: "stub"} }

// jointClassifier scores in one pass and counts how it was called.
type jointClassifier struct {
	stubClassifier
	joint, separate int
}

func (j *jointClassifier) PredictClass(x mat.Matrix) ([]int, error) {
	j.separate++
	return j.stubClassifier.PredictClass(x)
}

func (j *jointClassifier) PredictProba(x mat.Matrix) ([][2]float64, error) {
	j.separate++
	return j.stubClassifier.PredictProba(x)
}

func (j *jointClassifier) PredictClassProba(mat.Matrix) ([]int, [][2]float64, error) {
	j.joint++
	return j.classes, j.proba, j.err
}

func frozenForest() classifier.Classifier {
	f, err := classifier.LoadForest(filepath.Join("..", "classifier", "testdata", "forest.json"))
	if err != nil {
		panic(err)
	}
	return f
}

func thirdClassMale() model.RawPassenger {
	return model.RawPassenger{
		TicketClass:     3,
		Name:            "Unknown",
		Gender:          "male",
		Age:             22,
		SiblingsSpouses: 1,
		Fare:            7.25,
		EmbarkPort:      "S",
	}
}

func firstClassWoman() model.RawPassenger {
	return model.RawPassenger{
		TicketClass: 1,
		Name:        "Cumings, Mrs. John Bradley",
		Gender:      "female",
		Age:         38,
		Fare:        71.2833,
		Cabin:       "C85",
		EmbarkPort:  "C",
	}
}

func TestPredictOne(t *testing.T) {
	Convey("Given a service over the frozen forest", t, func() {
		svc := prediction.New(frozenForest())
		ctx := context.Background()

		Convey("When predicting the reference third class man", func() {
			res, err := svc.PredictOne(ctx, thirdClassMale())

			Convey("Then the result should be reproducible", func() {
				So(err, ShouldBeNil)
				So(res.Survived, ShouldEqual, 0)
				So(res.DeathProbability, ShouldAlmostEqual, 2.5/3, 1e-9)
				So(res.SurvivalProbability, ShouldAlmostEqual, 0.5/3, 1e-9)
				So(math.Abs(res.SurvivalProbability+res.DeathProbability-1), ShouldBeLessThan, 1e-6)
				So(res.Summary, ShouldResemble, model.Summary{Name: "Unknown", Class: 3, Gender: "male", Age: 22})
			})

			Convey("Then predicting again should give the same result", func() {
				again, err := svc.PredictOne(ctx, thirdClassMale())
				So(err, ShouldBeNil)
				So(again, ShouldResemble, res)
			})
		})

		Convey("When predicting a first class woman", func() {
			res, err := svc.PredictOne(ctx, firstClassWoman())

			Convey("Then she should survive", func() {
				So(err, ShouldBeNil)
				So(res.Survived, ShouldEqual, 1)
				So(res.SurvivalProbability, ShouldAlmostEqual, 0.7, 1e-9)
			})
		})

		Convey("When the context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := svc.PredictOne(cctx, thirdClassMale())

			Convey("Then it should fail as a prediction error", func() {
				var perr *prediction.PredictionError
				So(errors.As(err, &perr), ShouldBeTrue)
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})
	})

	Convey("Given a service without a model", t, func() {
		svc := prediction.New(nil)

		Convey("Then every call should report the model unavailable", func() {
			So(svc.Ready(), ShouldBeFalse)
			_, err := svc.PredictOne(context.Background(), thirdClassMale())
			So(errors.Is(err, prediction.ErrModelUnavailable), ShouldBeTrue)
			_, err = svc.PredictBatch(context.Background(), nil)
			So(errors.Is(err, prediction.ErrModelUnavailable), ShouldBeTrue)
			_, err = svc.Info()
			So(errors.Is(err, prediction.ErrModelUnavailable), ShouldBeTrue)
		})
	})
}

func TestPredictOneClassifierFailures(t *testing.T) {
	Convey("Given classifiers that misbehave", t, func() {
		ctx := context.Background()
		cases := map[string]*stubClassifier{
			"errors":           {err: errors.New("boom")},
			"too few rows":     {classes: []int{}, proba: [][2]float64{}},
			"non binary class": {classes: []int{2}, proba: [][2]float64{{0.5, 0.5}}},
			"unnormalised":     {classes: []int{1}, proba: [][2]float64{{0.5, 0.6}}},
			"nan":              {classes: []int{1}, proba: [][2]float64{{math.NaN(), 1}}},
		}
		for name, stub := range cases {
			Convey("When the classifier "+name, func() {
				_, err := prediction.New(stub).PredictOne(ctx, thirdClassMale())

				Convey("Then a prediction error should be returned", func() {
					var perr *prediction.PredictionError
					So(errors.As(err, &perr), ShouldBeTrue)
					So(perr.Batch, ShouldBeFalse)
					So(err.Error(), ShouldStartWith, "Prediction error: ")
				})
			})
		}
	})
}

func TestPredictBatch(t *testing.T) {
	Convey("Given a service over the frozen forest", t, func() {
		svc := prediction.New(frozenForest())
		ctx := context.Background()

		Convey("When predicting three passengers", func() {
			p1, p2, p3 := thirdClassMale(), firstClassWoman(), thirdClassMale()
			p3.Name = "Third"
			p3.Age = 5

			batch, err := svc.PredictBatch(ctx, []model.RawPassenger{p1, p2, p3})

			Convey("Then results should keep input order", func() {
				So(err, ShouldBeNil)
				So(batch.TotalCount, ShouldEqual, 3)
				So(len(batch.Predictions), ShouldEqual, 3)
				So(batch.Predictions[0].Summary.Age, ShouldEqual, 22)
				So(batch.Predictions[1].Summary.Gender, ShouldEqual, "female")
				So(batch.Predictions[2].Summary.Name, ShouldEqual, "Third")
			})

			Convey("Then each result should match the single prediction", func() {
				for i, p := range []model.RawPassenger{p1, p2, p3} {
					single, err := svc.PredictOne(ctx, p)
					So(err, ShouldBeNil)
					So(batch.Predictions[i], ShouldResemble, single)
				}
			})
		})

		Convey("When predicting an empty batch", func() {
			batch, err := svc.PredictBatch(ctx, []model.RawPassenger{})

			Convey("Then it should return zero results", func() {
				So(err, ShouldBeNil)
				So(batch.TotalCount, ShouldEqual, 0)
				So(batch.Predictions, ShouldNotBeNil)
				So(len(batch.Predictions), ShouldEqual, 0)
			})
		})
	})

	Convey("Given a classifier that fails", t, func() {
		svc := prediction.New(&stubClassifier{err: errors.New("boom")})

		Convey("When predicting a batch", func() {
			_, err := svc.PredictBatch(context.Background(), []model.RawPassenger{thirdClassMale(), firstClassWoman()})

			Convey("Then the whole batch should fail", func() {
				var perr *prediction.PredictionError
				So(errors.As(err, &perr), ShouldBeTrue)
				So(perr.Batch, ShouldBeTrue)
				So(err.Error(), ShouldStartWith, "Batch prediction error: ")
				So(err.Error(), ShouldContainSubstring, "boom")
			})
		})
	})
}

func TestSinglePass(t *testing.T) {
	Convey("Given a classifier that scores labels and probabilities together", t, func() {
		clf := &jointClassifier{stubClassifier: stubClassifier{
			classes: []int{1, 0},
			proba:   [][2]float64{{0.2, 0.8}, {0.9, 0.1}},
		}}
		svc := prediction.New(clf)

		Convey("When predicting a batch", func() {
			batch, err := svc.PredictBatch(context.Background(), []model.RawPassenger{firstClassWoman(), thirdClassMale()})

			Convey("Then the classifier should run once", func() {
				So(err, ShouldBeNil)
				So(batch.TotalCount, ShouldEqual, 2)
				So(batch.Predictions[0].Survived, ShouldEqual, 1)
				So(batch.Predictions[1].DeathProbability, ShouldAlmostEqual, 0.9)
				So(clf.joint, ShouldEqual, 1)
				So(clf.separate, ShouldEqual, 0)
			})
		})

		Convey("When predicting one passenger", func() {
			clf.classes, clf.proba = []int{1}, [][2]float64{{0.2, 0.8}}
			_, err := svc.PredictOne(context.Background(), firstClassWoman())

			Convey("Then the classifier should run once", func() {
				So(err, ShouldBeNil)
				So(clf.joint, ShouldEqual, 1)
				So(clf.separate, ShouldEqual, 0)
			})
		})
	})
}

func TestInfo(t *testing.T) {
	Convey("Given a service over the frozen forest", t, func() {
		info, err := prediction.New(frozenForest()).Info()

		Convey("Then it should describe the model and features", func() {
			So(err, ShouldBeNil)
			So(info.ModelType, ShouldEqual, "RandomForestClassifier")
			So(info.NEstimators, ShouldEqual, 3)
			So(info.MaxDepth, ShouldEqual, 2)
			So(info.Features, ShouldResemble, model.FeatureNames[:])
		})
	})
}

func TestPredictionErrorMessages(t *testing.T) {
	Convey("Given prediction errors", t, func() {
		cause := errors.New("bad")

		So(prediction.NewPredictionError(cause).Error(), ShouldEqual, "Prediction error: bad")
		So(prediction.NewBatchError(-1, cause).Error(), ShouldEqual, "Batch prediction error: bad")
		So(prediction.NewBatchError(2, cause).Error(), ShouldEqual, "Batch prediction error: passenger 2: bad")
		So(errors.Is(prediction.NewBatchError(2, cause), cause), ShouldBeTrue)
	})
}
