package verifier

// Security levels assigned by ScoreCoverage.
const (
	LevelHigh   = "high"
	LevelMedium = "medium"
	LevelLow    = "low"
)

// Coverage point values. Header points accumulate per covered header up
// to the cap.
const (
	pointsMethod    = 25
	pointsTargetURI = 25
	pointsDigest    = 30
	pointsPerHeader = 5
	headerPointsCap = 20
)

// SecurityAssessment grades how much of a message a signature protects.
type SecurityAssessment struct {
	Score      int
	Level      string
	Strengths  []string
	Weaknesses []string
}

// ScoreCoverage grades a covered-component list. Method and target URI
// are worth 25 points each, a content digest 30, and every covered header
// 5 up to 20; 80 points or more is high, 50 or more medium, below that
// low.
func ScoreCoverage(covered []string) SecurityAssessment {
	var (
		score        int
		headerPoints int
		hasMethod    bool
		hasTarget    bool
		hasDigest    bool
		assessment   SecurityAssessment
	)

	for _, id := range covered {
		switch id {
		case "@method":
			hasMethod = true
			score += pointsMethod
		case "@target-uri":
			hasTarget = true
			score += pointsTargetURI
		case "content-digest":
			hasDigest = true
			score += pointsDigest
		default:
			if headerPoints < headerPointsCap {
				headerPoints += pointsPerHeader
			}
		}
	}
	score += headerPoints

	if hasMethod {
		assessment.Strengths = append(assessment.Strengths, "request method is covered")
	} else {
		assessment.Weaknesses = append(assessment.Weaknesses, "request method is not covered")
	}

	if hasTarget {
		assessment.Strengths = append(assessment.Strengths, "target URI is covered")
	} else {
		assessment.Weaknesses = append(assessment.Weaknesses, "target URI is not covered")
	}

	if hasDigest {
		assessment.Strengths = append(assessment.Strengths, "body integrity is covered")
	} else {
		assessment.Weaknesses = append(assessment.Weaknesses, "body is not covered by a content digest")
	}

	if headerPoints > 0 {
		assessment.Strengths = append(assessment.Strengths, "additional headers are covered")
	}

	assessment.Score = score
	assessment.Level = levelFor(score)

	return assessment
}

func levelFor(score int) string {
	switch {
	case score >= 80:
		return LevelHigh
	case score >= 50:
		return LevelMedium
	default:
		return LevelLow
	}
}
