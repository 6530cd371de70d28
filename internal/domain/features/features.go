// Package features derives the classifier feature vector from a raw passenger.
//
// Derive is a total function: every RawPassenger value maps to a vector and
// unknown categories fall back to fixed default codes.
package features

import (
	"math"
	"regexp"
	"strings"

	"github.com/okian/lifeboat/internal/domain/model"
	"gonum.org/v1/gonum/mat"
)

// Title and deck sentinels.
const (
	TitleMr     = "Mr"
	TitleMiss   = "Miss"
	TitleMrs    = "Mrs"
	TitleMaster = "Master"
	TitleRare   = "Rare"

	DeckUnknown = "Unknown"

	defaultEmbark = "S"
)

// Default codes for values outside the known categories.
const (
	defaultSexCode    = 1
	defaultEmbarkCode = 0
	defaultTitleCode  = 4
	defaultDeckCode   = 8
	defaultAgeBand    = 2
)

// titlePattern captures a period-terminated word at the start of the name or
// after whitespace, e.g. "Braund, Mr. Owen" -> "Mr".
var titlePattern = regexp.MustCompile(`(?:^|\s)([A-Za-z]+)\.`)

var (
	rareTitles = map[string]struct{}{
		"Lady": {}, "Countess": {}, "Capt": {}, "Col": {}, "Don": {}, "Dr": {},
		"Major": {}, "Rev": {}, "Sir": {}, "Jonkheer": {}, "Dona": {},
	}
	titleAliases = map[string]string{
		"Mlle": TitleMiss,
		"Ms":   TitleMiss,
		"Mme":  TitleMrs,
	}

	sexCodes    = map[string]int{"male": 1, "female": 0}
	embarkCodes = map[string]int{"S": 0, "C": 1, "Q": 2}
	titleCodes  = map[string]int{TitleMr: 0, TitleMiss: 1, TitleMrs: 2, TitleMaster: 3, TitleRare: 4}
	deckCodes   = map[string]int{
		"A": 0, "B": 1, "C": 2, "D": 3, "E": 4, "F": 5, "G": 6, "T": 7, DeckUnknown: 8,
	}

	ageBounds  = []float64{0, 12, 18, 35, 60, 100}
	fareBounds = []float64{0, 7.91, 14.454, 31, 513}
)

// Derive maps a passenger to its feature vector.
func Derive(p model.RawPassenger) model.FeatureVector {
	familySize := p.SiblingsSpouses + p.ParentsChildren + 1

	var v model.FeatureVector
	v[model.FeaturePclass] = float64(p.TicketClass)
	v[model.FeatureSex] = float64(SexCode(p.Gender))
	v[model.FeatureAge] = p.Age
	v[model.FeatureSibSp] = float64(p.SiblingsSpouses)
	v[model.FeatureParch] = float64(p.ParentsChildren)
	v[model.FeatureFare] = p.Fare
	v[model.FeatureEmbarked] = float64(EmbarkCode(p.EmbarkPort))
	v[model.FeatureFamilySize] = float64(familySize)
	if familySize == 1 {
		v[model.FeatureIsAlone] = 1
	}
	v[model.FeatureTitle] = float64(TitleCode(p.Name, p.Gender))
	v[model.FeatureAgeBand] = float64(AgeBand(p.Age))
	v[model.FeatureFareBand] = float64(FareBand(p.Fare))
	v[model.FeatureDeck] = float64(DeckCode(Deck(p.Cabin)))
	return v
}

// ExtractTitle returns the honorific found in name, falling back to a
// gender-based title when none is present.
func ExtractTitle(name, gender string) string {
	if m := titlePattern.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	if normalizeGender(gender) == "female" {
		return TitleMiss
	}
	return TitleMr
}

// NormalizeTitle folds rare and alias titles into the trained categories.
// Matching is case-sensitive.
func NormalizeTitle(title string) string {
	if _, ok := rareTitles[title]; ok {
		return TitleRare
	}
	if alias, ok := titleAliases[title]; ok {
		return alias
	}
	return title
}

// TitleCode extracts, normalises and encodes the title of a passenger.
func TitleCode(name, gender string) int {
	if code, ok := titleCodes[NormalizeTitle(ExtractTitle(name, gender))]; ok {
		return code
	}
	return defaultTitleCode
}

// SexCode encodes gender; unknown values encode as male.
func SexCode(gender string) int {
	if code, ok := sexCodes[normalizeGender(gender)]; ok {
		return code
	}
	return defaultSexCode
}

// EmbarkCode encodes the port of embarkation, defaulting to Southampton.
func EmbarkCode(port string) int {
	port = strings.ToUpper(strings.TrimSpace(port))
	if port == "" {
		port = defaultEmbark
	}
	if code, ok := embarkCodes[port]; ok {
		return code
	}
	return defaultEmbarkCode
}

// Deck returns the first character of the cabin code, or DeckUnknown.
func Deck(cabin string) string {
	cabin = strings.TrimSpace(cabin)
	if cabin == "" {
		return DeckUnknown
	}
	return cabin[:1]
}

// DeckCode encodes a deck letter.
func DeckCode(deck string) int {
	if code, ok := deckCodes[deck]; ok {
		return code
	}
	return defaultDeckCode
}

// AgeBand buckets age into 0..4. Ages outside [0, 100] land in the middle band.
func AgeBand(age float64) int {
	band, ok := bucket(age, ageBounds)
	if !ok {
		return defaultAgeBand
	}
	return band
}

// FareBand buckets fare into 0..3 using fixed quartile cut points.
// Values below the first cut clamp to 0 and values above the last to 3.
func FareBand(fare float64) int {
	last := len(fareBounds) - 2
	switch {
	case math.IsNaN(fare), fare < fareBounds[0]:
		return 0
	case fare > fareBounds[len(fareBounds)-1]:
		return last
	}
	band, _ := bucket(fare, fareBounds)
	return band
}

// Matrix packs feature vectors row by row into a dense matrix.
// It returns nil for an empty slice.
func Matrix(vectors []model.FeatureVector) *mat.Dense {
	if len(vectors) == 0 {
		return nil
	}
	data := make([]float64, 0, len(vectors)*model.FeatureCount)
	for i := range vectors {
		data = append(data, vectors[i][:]...)
	}
	return mat.NewDense(len(vectors), model.FeatureCount, data)
}

// bucket finds i such that bounds[i] < x <= bounds[i+1], with the lowest
// edge inclusive.
func bucket(x float64, bounds []float64) (int, bool) {
	if math.IsNaN(x) || x < bounds[0] || x > bounds[len(bounds)-1] {
		return 0, false
	}
	for i := 1; i < len(bounds); i++ {
		if x <= bounds[i] {
			return i - 1, true
		}
	}
	return 0, false
}

func normalizeGender(gender string) string {
	return strings.ToLower(strings.TrimSpace(gender))
}
