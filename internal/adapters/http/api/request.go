package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/okian/lifeboat/internal/domain/model"
	"github.com/okian/lifeboat/internal/domain/prediction"
)

// Boundary defaults.
const (
	defaultName = "Unknown"
	defaultFare = 7.25
)

// flexNumber accepts a JSON number or a numeric string. A null or absent
// value leaves it unset; anything else unparseable is recorded as invalid so
// validation can name the field.
type flexNumber struct {
	value   float64
	set     bool
	invalid bool
}

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	*n = flexNumber{}
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		return nil
	}
	n.set = true

	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			n.invalid = true
			return nil
		}
		raw = strings.TrimSpace(s)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		n.invalid = true
		return nil
	}
	n.value = f
	return nil
}

// passengerRequest mirrors the OpenAPI schema for POST /predict.
type passengerRequest struct {
	Pclass   flexNumber `json:"pclass"`
	Name     *string    `json:"name"`
	Gender   string     `json:"gender"`
	Age      flexNumber `json:"age"`
	SibSp    flexNumber `json:"sibsp"`
	Parch    flexNumber `json:"parch"`
	Fare     flexNumber `json:"fare"`
	Cabin    *string    `json:"cabin"`
	Embarked *string    `json:"embarked"`
}

// batchRequest mirrors the OpenAPI schema for POST /predict/batch.
type batchRequest struct {
	Passengers []passengerRequest `json:"passengers"`
}

// toPassenger coerces and validates the request into a domain passenger.
func (p *passengerRequest) toPassenger() (model.RawPassenger, error) {
	out := model.RawPassenger{Name: defaultName, Fare: defaultFare}

	switch {
	case !p.Pclass.set:
		return out, errors.New("pclass is required")
	case p.Pclass.invalid, p.Pclass.value != math.Trunc(p.Pclass.value),
		p.Pclass.value < 1, p.Pclass.value > 3:
		return out, errors.New("pclass must be 1, 2 or 3")
	}
	out.TicketClass = int(p.Pclass.value)

	if p.Name != nil {
		out.Name = *p.Name
	}

	out.Gender = strings.ToLower(strings.TrimSpace(p.Gender))
	if out.Gender != "male" && out.Gender != "female" {
		return out, errors.New("gender must be male or female")
	}

	switch {
	case !p.Age.set:
		return out, errors.New("age is required")
	case p.Age.invalid:
		return out, errors.New("age must be a number")
	case p.Age.value < 0:
		return out, errors.New("age must be non-negative")
	}
	out.Age = p.Age.value

	var err error
	if out.SiblingsSpouses, err = count("sibsp", p.SibSp); err != nil {
		return out, err
	}
	if out.ParentsChildren, err = count("parch", p.Parch); err != nil {
		return out, err
	}

	if p.Fare.set {
		switch {
		case p.Fare.invalid:
			return out, errors.New("fare must be a number")
		case p.Fare.value < 0:
			return out, errors.New("fare must be non-negative")
		}
		out.Fare = p.Fare.value
	}

	if p.Cabin != nil {
		out.Cabin = *p.Cabin
	}

	if p.Embarked == nil {
		return out, errors.New("embarked is required")
	}
	out.EmbarkPort = strings.ToUpper(strings.TrimSpace(*p.Embarked))

	return out, nil
}

// count validates an optional non-negative integer field, defaulting to 0.
func count(field string, n flexNumber) (int, error) {
	if !n.set {
		return 0, nil
	}
	if n.invalid || n.value < 0 || n.value != math.Trunc(n.value) || n.value > math.MaxInt32 {
		return 0, fmt.Errorf("%s must be a non-negative integer", field)
	}
	return int(n.value), nil
}

// DecodePassengers reads passengers in the request format from r. Both a
// bare JSON array and the {"passengers": [...]} batch body are accepted.
// A passenger failing coercion yields a batch PredictionError with its index.
func DecodePassengers(r io.Reader) ([]model.RawPassenger, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, WrapKind("decode_passengers", ErrBadRequest, err)
	}

	var reqs []passengerRequest
	if trimmed := strings.TrimSpace(string(raw)); strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(raw, &reqs)
	} else {
		var batch batchRequest
		err = json.Unmarshal(raw, &batch)
		reqs = batch.Passengers
	}
	if err != nil {
		return nil, WrapKind("decode_passengers", ErrBadRequest, err)
	}

	out := make([]model.RawPassenger, len(reqs))
	for i := range reqs {
		p, err := reqs[i].toPassenger()
		if err != nil {
			return nil, prediction.NewBatchError(i, err)
		}
		out[i] = p
	}
	return out, nil
}
