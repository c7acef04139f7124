package diagnosis

import (
	"errors"
	"strings"
)

type Organ string

const (
	Skin  Organ = "skin"
	Eye   Organ = "eye"
	Blood Organ = "blood"
	Brain Organ = "brain"
)

var ErrUnknownOrgan = errors.New("unknown organ")

// Organs lists the supported organs in display order.
var Organs = []Organ{Skin, Eye, Blood, Brain}

func ParseOrgan(s string) (Organ, error) {
	switch o := Organ(strings.ToLower(strings.TrimSpace(s))); o {
	case Skin, Eye, Blood, Brain:
		return o, nil
	default:
		return "", ErrUnknownOrgan
	}
}

// Severity is how a prediction should be presented.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityInfo     Severity = "info"
)

var concerningSkin = []string{"carcinoma", "melanoma", "cancer", "malignant", "tumor", "suspicious"}

// SeverityOf classifies a predicted label for the given organ. Brain results
// are classified from HasTumor instead, see Result.Severity.
func SeverityOf(organ Organ, prediction string) Severity {
	p := strings.ToLower(strings.TrimSpace(prediction))
	switch organ {
	case Skin:
		for _, c := range concerningSkin {
			if strings.Contains(p, c) {
				return SeverityCritical
			}
		}
		return SeverityNormal
	case Eye:
		switch p {
		case "normal":
			return SeverityNormal
		case "glaucoma", "cataract", "diabetic_retinopathy":
			return SeverityCritical
		}
	case Blood:
		switch p {
		case "normal":
			return SeverityNormal
		case "parasitic":
			return SeverityWarning
		case "bacterial", "viral":
			return SeverityCritical
		}
	}
	return SeverityInfo
}

// FormatPredictionName turns "diabetic_retinopathy" into "Diabetic Retinopathy".
func FormatPredictionName(prediction string) string {
	words := strings.Split(prediction, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
