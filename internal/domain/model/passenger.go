// Package model contains domain models passed between layers.
package model

// RawPassenger is one passenger as accepted at the API boundary, after
// coercion. Fields mirror the OpenAPI schema for /predict.
type RawPassenger struct {
	TicketClass     int     // 1, 2 or 3
	Name            string  // free text, "Unknown" when absent
	Gender          string  // "male" or "female"
	Age             float64 // years, non-negative
	SiblingsSpouses int     // sibsp
	ParentsChildren int     // parch
	Fare            float64 // ticket fare
	Cabin           string  // optional cabin code, e.g. "C85"
	EmbarkPort      string  // C, Q or S
}

// Feature indexes in FeatureVector. The order is the column order the
// classifier was trained on.
const (
	FeaturePclass = iota
	FeatureSex
	FeatureAge
	FeatureSibSp
	FeatureParch
	FeatureFare
	FeatureEmbarked
	FeatureFamilySize
	FeatureIsAlone
	FeatureTitle
	FeatureAgeBand
	FeatureFareBand
	FeatureDeck

	// FeatureCount is the fixed feature vector length.
	FeatureCount
)

// FeatureNames lists the column names in FeatureVector order.
var FeatureNames = [FeatureCount]string{
	"Pclass", "Sex", "Age", "SibSp", "Parch", "Fare", "Embarked",
	"FamilySize", "IsAlone", "Title", "AgeBand", "FareBand", "Deck",
}

// FeatureVector is the numeric classifier input for one passenger.
type FeatureVector [FeatureCount]float64
