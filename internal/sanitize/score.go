package sanitize

import "math"

// RiskLevel buckets a privacy score.
type RiskLevel string

const (
	RiskNone     RiskLevel = "NONE"
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// riskWeights rate how identifying an entity of each label is. Labels not
// listed weigh defaultRiskWeight.
var riskWeights = map[Label]int{
	LabelPerson:       10,
	LabelGovernmentID: 10,
	LabelCreditCard:   10,
	LabelEmail:        9,
	LabelPhone:        8,
	LabelOrganization: 6,
	LabelAge:          6,
	LabelLocation:     5,
	LabelIPAddress:    5,
	LabelMoneyAmount:  5,
	LabelURL:          4,
	LabelDate:         4,
	LabelProjectName:  3,
	LabelProductName:  3,
	LabelPercentage:   2,

	LabelMedicalCondition:    0,
	LabelDrugName:            0,
	LabelSymptom:             0,
	LabelMedicalProcedure:    0,
	LabelLegalConcept:        0,
	LabelFinancialInstrument: 0,
	LabelRegulatoryTerm:      0,
	LabelJobTitle:            0,
}

const defaultRiskWeight = 5

// safeHarborLabels are the HIPAA Safe Harbor identifier categories the
// classifier can detect.
var safeHarborLabels = map[Label]bool{
	LabelPerson:       true,
	LabelLocation:     true,
	LabelDate:         true,
	LabelPhone:        true,
	LabelEmail:        true,
	LabelGovernmentID: true,
	LabelCreditCard:   true,
	LabelURL:          true,
	LabelIPAddress:    true,
}

// PrivacyScore summarises how much of a prompt's identifying risk was
// mitigated.
type PrivacyScore struct {
	Score          int       `json:"score"`
	RiskLevel      RiskLevel `json:"risk_level"`
	TotalEntities  int       `json:"total_entities"`
	Replaced       int       `json:"replaced"`
	Perturbed      int       `json:"perturbed"`
	Preserved      int       `json:"preserved"`
	HIPAAFound     int       `json:"hipaa_identifiers_found"`
	HIPAAProtected int       `json:"hipaa_identifiers_protected"`
}

func riskWeight(l Label) int {
	if w, ok := riskWeights[l]; ok {
		return w
	}
	return defaultRiskWeight
}

// ComputePrivacyScore scores the share of risk weight carried by replaced
// or perturbed spans.
func ComputePrivacyScore(spans []ClassifiedSpan) PrivacyScore {
	if len(spans) == 0 {
		return PrivacyScore{Score: 100, RiskLevel: RiskNone}
	}

	ps := PrivacyScore{TotalEntities: len(spans)}
	var total, protected int
	for _, sp := range spans {
		isProtected := sp.Tier == TierReplace || sp.Tier == TierPerturb
		switch sp.Tier {
		case TierReplace:
			ps.Replaced++
		case TierPerturb:
			ps.Perturbed++
		case TierPreserve:
			ps.Preserved++
		}
		if safeHarborLabels[sp.Label] {
			ps.HIPAAFound++
			if isProtected {
				ps.HIPAAProtected++
			}
		}
		w := riskWeight(sp.Label)
		total += w
		if isProtected {
			protected += w
		}
	}

	if total == 0 {
		ps.Score = 100
	} else {
		ps.Score = int(math.Round(float64(protected) / float64(total) * 100))
	}
	ps.RiskLevel = riskLevelFor(ps.Score)
	return ps
}

func riskLevelFor(score int) RiskLevel {
	switch {
	case score >= 90:
		return RiskLow
	case score >= 70:
		return RiskMedium
	case score >= 50:
		return RiskHigh
	default:
		return RiskCritical
	}
}
