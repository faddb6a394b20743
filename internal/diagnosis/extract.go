package diagnosis

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/carhelperai/carhelper/pkg/models"
)

// ExtractionKind tags how a Diagnosis was obtained from model text.
type ExtractionKind int

const (
	// Parsed means a JSON object was found in the text and decoded.
	Parsed ExtractionKind = iota
	// Fallback means no usable JSON was found; the raw text became the summary.
	Fallback
)

func (k ExtractionKind) String() string {
	if k == Parsed {
		return "parsed"
	}
	return "fallback"
}

const fallbackNotes = "More information needed for accurate estimate"

// Extraction is the outcome of Extract. Reason explains a Fallback.
type Extraction struct {
	Kind      ExtractionKind
	Diagnosis models.Diagnosis
	Reason    string
}

// rawDiagnosis mirrors models.Diagnosis with lenient field types, so
// "confidence": 72.5 or "laborHours": "1.5" decode instead of failing the
// whole payload.
type rawDiagnosis struct {
	Summary        text           `json:"summary"`
	NextQuestions  list[text]     `json:"nextQuestions"`
	LikelyCauses   list[rawCause] `json:"likelyCauses"`
	Severity       text           `json:"severity"`
	Confidence     number         `json:"confidence"`
	SafetyAdvisory text           `json:"safetyAdvisory"`
	DIYSteps       list[rawStep]  `json:"diySteps"`
	Parts          list[rawPart]  `json:"parts"`
	Estimates      rawEstimates   `json:"estimates"`
	WhatToDoNext   list[text]     `json:"whatToDoNext"`
	FollowUpNeeded flag           `json:"followUpNeeded"`
	References     list[text]     `json:"references"`
}

type rawCause struct {
	Cause          text       `json:"cause"`
	Probability    number     `json:"probability"`
	WhyLikely      text       `json:"whyLikely"`
	Checks         list[text] `json:"checks"`
	RisksIfIgnored text       `json:"risksIfIgnored"`
	Verify         text       `json:"verify"`
}

type rawStep struct {
	Step       text       `json:"step"`
	Tools      list[text] `json:"tools"`
	TimeMin    number     `json:"timeMin"`
	Difficulty text       `json:"difficulty"`
}

type rawPart struct {
	Name             text   `json:"name"`
	OEMOrAftermarket text   `json:"oemOrAftermarket"`
	Qty              number `json:"qty"`
	PriceLow         number `json:"priceLow"`
	PriceHigh        number `json:"priceHigh"`
}

type rawEstimates struct {
	LaborHours     number       `json:"laborHours"`
	LaborRateRange list[number] `json:"laborRateRange"`
	PartsLow       number       `json:"partsLow"`
	PartsHigh      number       `json:"partsHigh"`
	TotalLow       number       `json:"totalLow"`
	TotalHigh      number       `json:"totalHigh"`
	Notes          text         `json:"notes"`
}

// Extract pulls the diagnosis out of model output. The region from the first
// '{' to the last '}' must be syntactically valid JSON; field types are
// coerced where possible. Anything else degrades to a Fallback carrying the
// raw text.
func Extract(raw string) Extraction {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return fallback(raw, "no JSON object in model output")
	}

	var rd rawDiagnosis
	if err := json.Unmarshal([]byte(raw[start:end+1]), &rd); err != nil {
		return fallback(raw, "invalid JSON: "+err.Error())
	}
	return Extraction{Kind: Parsed, Diagnosis: normalize(rd)}
}

func fallback(raw, reason string) Extraction {
	d := emptyDiagnosis()
	d.Summary = raw
	d.Severity = models.SeverityLow
	d.Confidence = 50
	d.FollowUpNeeded = true
	d.Estimates.Notes = fallbackNotes
	return Extraction{Kind: Fallback, Diagnosis: d, Reason: reason}
}

// emptyDiagnosis has every list initialised so it encodes as [] rather than null.
func emptyDiagnosis() models.Diagnosis {
	return models.Diagnosis{
		NextQuestions: []string{},
		LikelyCauses:  []models.LikelyCause{},
		DIYSteps:      []models.DIYStep{},
		Parts:         []models.Part{},
		Estimates:     models.CostEstimate{LaborRateRange: models.DefaultLaborRateRange},
		WhatToDoNext:  []string{},
		References:    []string{},
	}
}

func normalize(rd rawDiagnosis) models.Diagnosis {
	d := emptyDiagnosis()
	d.Summary = string(rd.Summary)
	d.SafetyAdvisory = string(rd.SafetyAdvisory)
	d.FollowUpNeeded = bool(rd.FollowUpNeeded)
	d.NextQuestions = texts(rd.NextQuestions)
	d.WhatToDoNext = texts(rd.WhatToDoNext)
	d.References = texts(rd.References)

	d.Severity = strings.ToLower(strings.TrimSpace(string(rd.Severity)))
	if !models.ValidSeverity(d.Severity) {
		d.Severity = models.SeverityMedium
	}
	d.Confidence = int(clamp(math.Round(float64(rd.Confidence)), 0, 100))

	for _, c := range rd.LikelyCauses {
		d.LikelyCauses = append(d.LikelyCauses, models.LikelyCause{
			Cause:          string(c.Cause),
			Probability:    float64(c.Probability),
			WhyLikely:      string(c.WhyLikely),
			Checks:         texts(c.Checks),
			RisksIfIgnored: string(c.RisksIfIgnored),
			Verify:         string(c.Verify),
		})
	}
	for _, s := range rd.DIYSteps {
		d.DIYSteps = append(d.DIYSteps, models.DIYStep{
			Step:       string(s.Step),
			Tools:      texts(s.Tools),
			TimeMin:    int(nonNegative(math.Round(float64(s.TimeMin)))),
			Difficulty: difficulty(string(s.Difficulty)),
		})
	}
	for _, p := range rd.Parts {
		qty := int(math.Round(float64(p.Qty)))
		if qty < 1 {
			qty = 1
		}
		d.Parts = append(d.Parts, models.Part{
			Name:             string(p.Name),
			OEMOrAftermarket: sourceType(string(p.OEMOrAftermarket)),
			Qty:              qty,
			PriceLow:         nonNegative(float64(p.PriceLow)),
			PriceHigh:        nonNegative(float64(p.PriceHigh)),
		})
	}

	e := rd.Estimates
	d.Estimates = models.CostEstimate{
		LaborHours: nonNegative(float64(e.LaborHours)),
		PartsLow:   nonNegative(float64(e.PartsLow)),
		PartsHigh:  nonNegative(float64(e.PartsHigh)),
		TotalLow:   nonNegative(float64(e.TotalLow)),
		TotalHigh:  nonNegative(float64(e.TotalHigh)),
		Notes:      string(e.Notes),
	}
	for i := 0; i < len(e.LaborRateRange) && i < 2; i++ {
		d.Estimates.LaborRateRange[i] = nonNegative(float64(e.LaborRateRange[i]))
	}
	if d.Estimates.LaborRateRange == [2]float64{} {
		d.Estimates.LaborRateRange = models.DefaultLaborRateRange
	}
	return d
}

func difficulty(s string) string {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "easy", "moderate", "hard":
		return v
	default:
		return "moderate"
	}
}

func sourceType(s string) string {
	if strings.EqualFold(strings.TrimSpace(s), "oem") {
		return "OEM"
	}
	return "Aftermarket"
}

func nonNegative(f float64) float64 {
	if f < 0 || math.IsNaN(f) {
		return 0
	}
	return f
}

func clamp(f, lo, hi float64) float64 {
	if math.IsNaN(f) {
		return lo
	}
	return math.Max(lo, math.Min(hi, f))
}
