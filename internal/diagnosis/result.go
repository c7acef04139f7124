package diagnosis

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Prediction is the union of the upstream response shapes:
//
//	eye:   prediction, confidence ("97.1%"), confidence_score, filename, model_type, all_classes
//	skin:  prediction
//	blood: prediction, prediction_index, confidence (0..1), filename
//	brain: result, has_tumor, segmented_image, filename
type Prediction struct {
	Prediction      string          `json:"prediction,omitempty"`
	PredictionIndex *int            `json:"prediction_index,omitempty"`
	Confidence      json.RawMessage `json:"confidence,omitempty"`
	ConfidenceScore *float64        `json:"confidence_score,omitempty"`
	Filename        string          `json:"filename,omitempty"`
	ModelType       string          `json:"model_type,omitempty"`
	AllClasses      []string        `json:"all_classes,omitempty"`

	Result         string  `json:"result,omitempty"`
	HasTumor       *bool   `json:"has_tumor,omitempty"`
	SegmentedImage *string `json:"segmented_image,omitempty"`
}

// Score returns the confidence in [0,1] when the upstream reported one.
func (p Prediction) Score() (float64, bool) {
	if p.ConfidenceScore != nil {
		return *p.ConfidenceScore, true
	}
	if len(p.Confidence) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(p.Confidence, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(p.Confidence, &s); err != nil {
		return 0, false
	}
	s = strings.TrimSpace(s)
	pct := strings.HasSuffix(s, "%")
	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0, false
	}
	if pct {
		f /= 100
	}
	return f, true
}

// Result is what the proxy returns: the upstream body untouched plus the
// presentation fields derived from it.
type Result struct {
	Organ    Organ           `json:"organ"`
	Label    string          `json:"label"`
	Severity Severity        `json:"severity"`
	Score    *float64        `json:"score,omitempty"`
	Upstream json.RawMessage `json:"upstream"`

	Prediction Prediction `json:"-"`
}

func newResult(organ Organ, raw []byte) (*Result, error) {
	var p Prediction
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	r := &Result{
		Organ:      organ,
		Upstream:   json.RawMessage(raw),
		Prediction: p,
	}

	if organ == Brain {
		r.Label = p.Result
		r.Severity = SeverityNormal
		if p.HasTumor != nil && *p.HasTumor {
			r.Severity = SeverityCritical
		}
	} else {
		r.Label = FormatPredictionName(p.Prediction)
		r.Severity = SeverityOf(organ, p.Prediction)
	}
	if s, ok := p.Score(); ok {
		r.Score = &s
	}
	return r, nil
}
