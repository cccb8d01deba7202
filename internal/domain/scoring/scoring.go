// Package scoring extracts per-evaluation scores and maps answers to
// severity levels.
package scoring

import (
	"github.com/okian/evalsync/internal/domain/model"
)

// Level describes one point of the 1..5 answer scale.
type Level struct {
	Score int    `json:"score"`
	Label string `json:"label"`
	Color string `json:"color"`
}

var levels = [...]Level{
	{Score: 1, Label: "Never/rarely", Color: "#dc3545"},
	{Score: 2, Label: "Seldom", Color: "#ff9800"},
	{Score: 3, Label: "Sometimes", Color: "#ffc107"},
	{Score: 4, Label: "Often", Color: "#5cb85c"},
	{Score: 5, Label: "Always/almost always", Color: "#28a745"},
}

// Levels returns the scale from lowest to highest.
func Levels() []Level {
	return append([]Level(nil), levels[:]...)
}

// LevelFor returns the level of score. ok is false outside 1..5.
func LevelFor(score int) (Level, bool) {
	if score < model.MinScore || score > model.MaxScore {
		return Level{Score: score}, false
	}
	return levels[score-model.MinScore], true
}

// Summary is the overall score of one evaluation.
type Summary struct {
	Total    float64 `json:"total"`
	Max      float64 `json:"max"`
	Percent  float64 `json:"percent"`
	Answered int     `json:"answered"`
}

// Extract computes total, max and percent. Max is the sum of group maxima
// when present, else answered*5, else the full questionnaire.
func Extract(rec model.EvaluationRecord) Summary {
	s := Summary{Total: rec.TotalScore, Answered: rec.Answered()}
	for _, gs := range rec.GroupScores {
		s.Max += gs.Max
	}
	if s.Max <= 0 {
		s.Max = float64(s.Answered * model.MaxScore)
	}
	if s.Max <= 0 {
		s.Max = model.MaxTotal
	}
	s.Percent = Percent(s.Total, s.Max)
	return s
}

// Percent returns total/max*100, or 0 when max is not positive.
func Percent(total, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return total / limit * 100
}
