// Package pdi builds intervention plans: the answers of one evaluation that
// match a score, category and subgroup selection, grouped by the taxonomy.
package pdi

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/internal/domain/scoring"
	"github.com/okian/evalsync/internal/domain/taxonomy"
)

// Selection chooses which answers enter the plan. An empty set accepts
// everything; sets combine with AND.
type Selection struct {
	Scores     []int    `json:"scores,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Subgroups  []string `json:"subgroups,omitempty"`
}

// AllLowScores selects every answer scored 1, 2 or 3.
func AllLowScores() Selection {
	return Selection{Scores: []int{1, 2, 3}}
}

type matcher struct {
	scores     map[int]bool
	categories map[string]bool
	subgroups  map[string]bool
}

func (s Selection) matcher() matcher {
	m := matcher{}
	if len(s.Scores) > 0 {
		m.scores = make(map[int]bool, len(s.Scores))
		for _, v := range s.Scores {
			m.scores[v] = true
		}
	}
	m.categories = foldSet(s.Categories)
	m.subgroups = foldSet(s.Subgroups)
	return m
}

func foldSet(values []string) map[string]bool {
	var out map[string]bool
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			if out == nil {
				out = make(map[string]bool)
			}
			out[v] = true
		}
	}
	return out
}

func (m matcher) match(score int, category, subgroup string) bool {
	if m.scores != nil && !m.scores[score] {
		return false
	}
	if m.categories != nil && !m.categories[strings.ToLower(category)] {
		return false
	}
	if m.subgroups != nil && !m.subgroups[strings.ToLower(subgroup)] {
		return false
	}
	return true
}

// Entry is one selected answer.
type Entry struct {
	Question    int           `json:"question"`
	Description string        `json:"description"`
	Score       int           `json:"score"`
	Level       scoring.Level `json:"level"`
	Category    string        `json:"category"`
	Subgroup    string        `json:"subgroup"`
	Color       string        `json:"color"`
}

// SubgroupSection holds the selected entries of one subgroup. Total, Max and
// Percentage cover every answered item of the subgroup, selected or not.
type SubgroupSection struct {
	Name       string  `json:"name"`
	Entries    []Entry `json:"entries"`
	Total      int     `json:"total"`
	Max        int     `json:"max"`
	Percentage float64 `json:"percentage"`
}

// CategorySection groups subgroups of one category.
type CategorySection struct {
	Name      string            `json:"name"`
	Color     string            `json:"color"`
	Subgroups []SubgroupSection `json:"subgroups"`
}

// Plan is the intervention plan of one evaluation.
type Plan struct {
	EvaluationID   string            `json:"evaluationId"`
	PatientName    string            `json:"patientName"`
	EvaluationDate string            `json:"evaluationDate,omitempty"`
	Selection      Selection         `json:"selection"`
	Categories     []CategorySection `json:"categories"`
	Count          int               `json:"count"`
}

// Entries returns the selected entries in questionnaire order.
func (p Plan) Entries() []Entry {
	out := make([]Entry, 0, p.Count)
	for _, c := range p.Categories {
		for _, s := range c.Subgroups {
			out = append(out, s.Entries...)
		}
	}
	return out
}

// Ranked returns the selected entries from lowest to highest score, keeping
// questionnaire order among equal scores.
func (p Plan) Ranked() []Entry {
	out := p.Entries()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	return out
}

// Build selects the answers of rec matching sel.
func Build(rec model.EvaluationRecord, sel Selection) Plan {
	catalog := taxonomy.Default()
	m := sel.matcher()

	plan := Plan{
		EvaluationID:   rec.EvaluationID,
		PatientName:    rec.PatientInfo.Name,
		EvaluationDate: rec.PatientInfo.EvaluationDate,
		Selection:      sel,
		Categories:     []CategorySection{},
	}
	if plan.EvaluationID == "" {
		plan.EvaluationID = rec.ID
	}
	if d, ok := rec.EvaluatedOn(); ok {
		plan.EvaluationDate = d.Format(model.DateLayout)
	}

	type section struct {
		sub      SubgroupSection
		category string
		rank     int
	}
	sections := make(map[string]*section)
	for _, q := range rec.Responses.Questions() {
		resp := rec.Responses[q]
		name, category := taxonomy.Other, taxonomy.Other
		if sg, ok := catalog.Lookup(q); ok {
			name, category = sg.Name, sg.Category
		}
		s := sections[name]
		if s == nil {
			s = &section{sub: SubgroupSection{Name: name}, category: category, rank: catalog.SubgroupRank(name)}
			sections[name] = s
		}
		s.sub.Total += resp.Score
		s.sub.Max += model.MaxScore

		if !m.match(resp.Score, category, name) {
			continue
		}
		level, _ := scoring.LevelFor(resp.Score)
		desc := resp.Question
		if desc == "" {
			desc = fmt.Sprintf("Questão %d", q)
		}
		s.sub.Entries = append(s.sub.Entries, Entry{
			Question:    q,
			Description: desc,
			Score:       resp.Score,
			Level:       level,
			Category:    category,
			Subgroup:    name,
			Color:       catalog.Color(category),
		})
		plan.Count++
	}

	ordered := make([]*section, 0, len(sections))
	for _, s := range sections {
		if len(s.sub.Entries) > 0 {
			ordered = append(ordered, s)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].rank != ordered[j].rank {
			return ordered[i].rank < ordered[j].rank
		}
		return ordered[i].sub.Name < ordered[j].sub.Name
	})

	for _, s := range ordered {
		s.sub.Percentage = math.Round(float64(s.sub.Total) / float64(s.sub.Max) * 100)
		n := len(plan.Categories)
		if n == 0 || plan.Categories[n-1].Name != s.category {
			plan.Categories = append(plan.Categories, CategorySection{
				Name:  s.category,
				Color: catalog.Color(s.category),
			})
			n++
		}
		plan.Categories[n-1].Subgroups = append(plan.Categories[n-1].Subgroups, s.sub)
	}
	return plan
}
