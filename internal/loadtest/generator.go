package loadtest

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/okian/lifeboat/pkg/logger"
)

// Constants for random number generation.
const (
	randomFloatDivisor = 1000000
	maxAge             = 80.0
	maxFare            = 300.0
	maxRelatives       = 5
	missingFareChance  = 0.1
	cabinChance        = 0.25
	childAge           = 14.0
)

var (
	surnames  = []string{"Braund", "Cumings", "Heikkinen", "Futrelle", "Allen", "Moran", "McCarthy", "Palsson", "Johnson", "Nasser"}
	males     = []string{"Owen", "William", "James", "Timothy", "Gosta", "Thomas", "John"}
	females   = []string{"Florence", "Laina", "Lily", "Elisabeth", "Adele", "Mary"}
	rareTitle = []string{"Dr", "Rev", "Col", "Major", "Capt", "Countess", "Sir"}
	ports     = []string{"S", "C", "Q"}
	decks     = []string{"A", "B", "C", "D", "E", "F", "G", "T"}
)

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

// randInt returns a random int in [0, n).
func randInt(n int) int {
	v, _ := rand.Int(rand.Reader, big.NewInt(int64(n)))
	return int(v.Int64())
}

func pick(xs []string) string { return xs[randInt(len(xs))] }

// generatePassengers creates n passengers. Each name carries its index so
// batch responses can be checked for order.
func generatePassengers(ctx context.Context, n int) ([]Passenger, error) {
	logger.Get().Info(ctx, "generating passengers", logger.Int("count", n))

	out := make([]Passenger, n)
	for i := range out {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during generation: %w", err)
		}
		out[i] = generatePassenger(i)
	}
	return out, nil
}

// generatePassenger creates one passenger with a plausible mix of fields.
func generatePassenger(index int) Passenger {
	p := Passenger{
		Pclass:   1 + randInt(3),
		Age:      float64(int(getRandomFloat()*maxAge*10)) / 10,
		SibSp:    randInt(maxRelatives),
		Parch:    randInt(maxRelatives),
		Embarked: pick(ports),
	}

	var title, given string
	if randInt(2) == 0 {
		p.Gender = "male"
		given = pick(males)
		title = "Mr"
		if p.Age < childAge {
			title = "Master"
		}
	} else {
		p.Gender = "female"
		given = pick(females)
		title = "Miss"
		if p.SibSp > 0 {
			title = "Mrs"
		}
	}
	if randInt(20) == 0 {
		title = pick(rareTitle)
	}
	p.Name = fmt.Sprintf("%s, %s. %s #%d", pick(surnames), title, given, index)

	if getRandomFloat() >= missingFareChance {
		fare := float64(int(getRandomFloat()*maxFare*100)) / 100
		p.Fare = &fare
	}
	if getRandomFloat() < cabinChance {
		cabin := fmt.Sprintf("%s%d", pick(decks), 1+randInt(120))
		p.Cabin = &cabin
	}
	return p
}

// chunk splits passengers into batches of at most size.
func chunk(ps []Passenger, size int) [][]Passenger {
	if size <= 0 {
		return nil
	}
	var out [][]Passenger
	for start := 0; start < len(ps); start += size {
		out = append(out, ps[start:min(start+size, len(ps))])
	}
	return out
}
