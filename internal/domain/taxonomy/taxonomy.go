// Package taxonomy holds the fixed skill catalog of the 149-item
// questionnaire: four categories, each split into contiguous subgroups
// of question numbers. The catalog is built once and shared read-only.
package taxonomy

import (
	"strings"
	"sync"
)

// Catalog bounds.
const (
	FirstQuestion = 1
	LastQuestion  = 149

	// Other names the bucket for subgroups that are not part of the catalog.
	Other = "Outros"

	otherColor = "#999999"
)

// Subgroup is a contiguous range of questions inside a category.
type Subgroup struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	First    int    `json:"first"`
	Last     int    `json:"last"`
	order    int
}

// Size returns the number of questions in the subgroup.
func (s Subgroup) Size() int { return s.Last - s.First + 1 }

// Contains reports whether question q belongs to the subgroup.
func (s Subgroup) Contains(q int) bool { return q >= s.First && q <= s.Last }

// Category is a skill domain with its display color and ordered subgroups.
type Category struct {
	Name      string     `json:"name"`
	Color     string     `json:"color"`
	Subgroups []Subgroup `json:"subgroups"`
	order     int
}

// Catalog is the immutable lookup structure over the questionnaire.
type Catalog struct {
	categories []Category
	byQuestion [LastQuestion + 1]int // index into subgroups, -1 when unmapped
	subgroups  []Subgroup
	bySubgroup map[string]int
	byCategory map[string]int
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the process-wide catalog.
func Default() *Catalog {
	defaultOnce.Do(func() {
		defaultCatalog = build(definition())
	})
	return defaultCatalog
}

func definition() []Category {
	return []Category{
		{Name: "Habilidades Comunicativas", Color: "#667eea", Subgroups: []Subgroup{
			{Name: "Contato Visual", First: 1, Last: 10},
			{Name: "Comunicação Alternativa", First: 11, Last: 20},
			{Name: "Linguagem Expressiva", First: 21, Last: 30},
			{Name: "Linguagem Receptiva", First: 31, Last: 40},
		}},
		{Name: "Habilidades Sociais", Color: "#4facfe", Subgroups: []Subgroup{
			{Name: "Expressão Facial", First: 41, Last: 50},
			{Name: "Imitação", First: 51, Last: 60},
			{Name: "Atenção Compartilhada", First: 61, Last: 70},
			{Name: "Brincar", First: 71, Last: 80},
		}},
		{Name: "Habilidades Funcionais", Color: "#ffecd2", Subgroups: []Subgroup{
			{Name: "Auto Cuidado", First: 81, Last: 89},
			{Name: "Vestir-se", First: 90, Last: 99},
			{Name: "Uso do Banheiro", First: 100, Last: 109},
		}},
		{Name: "Habilidades Emocionais", Color: "#d299c2", Subgroups: []Subgroup{
			{Name: "Controle Inibitório", First: 110, Last: 119},
			{Name: "Flexibilidade", First: 120, Last: 129},
			{Name: "Resposta Emocional", First: 130, Last: 139},
			{Name: "Empatia", First: 140, Last: 149},
		}},
	}
}

func build(categories []Category) *Catalog {
	c := &Catalog{
		bySubgroup: make(map[string]int),
		byCategory: make(map[string]int),
	}
	for i := range c.byQuestion {
		c.byQuestion[i] = -1
	}

	for ci := range categories {
		cat := categories[ci]
		cat.order = ci
		subs := make([]Subgroup, len(cat.Subgroups))
		for si, sg := range cat.Subgroups {
			sg.Category = cat.Name
			sg.order = len(c.subgroups)
			subs[si] = sg
			c.bySubgroup[fold(sg.Name)] = len(c.subgroups)
			for q := sg.First; q <= sg.Last; q++ {
				c.byQuestion[q] = len(c.subgroups)
			}
			c.subgroups = append(c.subgroups, sg)
		}
		cat.Subgroups = subs
		c.byCategory[fold(cat.Name)] = ci
		c.categories = append(c.categories, cat)
	}
	return c
}

func fold(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Categories returns the categories in questionnaire order.
func (c *Catalog) Categories() []Category {
	out := make([]Category, len(c.categories))
	for i, cat := range c.categories {
		cat.Subgroups = append([]Subgroup(nil), cat.Subgroups...)
		out[i] = cat
	}
	return out
}

// Subgroups returns every subgroup in questionnaire order.
func (c *Catalog) Subgroups() []Subgroup {
	return append([]Subgroup(nil), c.subgroups...)
}

// Lookup returns the subgroup that owns question q.
func (c *Catalog) Lookup(q int) (Subgroup, bool) {
	if q < FirstQuestion || q > LastQuestion || c.byQuestion[q] < 0 {
		return Subgroup{}, false
	}
	return c.subgroups[c.byQuestion[q]], true
}

// Subgroup finds a subgroup by name, case-insensitively.
func (c *Catalog) Subgroup(name string) (Subgroup, bool) {
	i, ok := c.bySubgroup[fold(name)]
	if !ok {
		return Subgroup{}, false
	}
	return c.subgroups[i], true
}

// Category finds a category by name, case-insensitively.
func (c *Catalog) Category(name string) (Category, bool) {
	i, ok := c.byCategory[fold(name)]
	if !ok {
		return Category{}, false
	}
	return c.Categories()[i], true
}

// CategoryOf returns the category owning the named subgroup, or Other.
func (c *Catalog) CategoryOf(subgroup string) string {
	if sg, ok := c.Subgroup(subgroup); ok {
		return sg.Category
	}
	return Other
}

// Color returns the display color of a category.
func (c *Catalog) Color(category string) string {
	if i, ok := c.byCategory[fold(category)]; ok {
		return c.categories[i].Color
	}
	return otherColor
}

// CategoryRank orders categories; unknown names sort after known ones.
func (c *Catalog) CategoryRank(category string) int {
	if i, ok := c.byCategory[fold(category)]; ok {
		return i
	}
	return len(c.categories)
}

// SubgroupRank orders subgroups; unknown names sort after known ones.
func (c *Catalog) SubgroupRank(subgroup string) int {
	if i, ok := c.bySubgroup[fold(subgroup)]; ok {
		return c.subgroups[i].order
	}
	return len(c.subgroups)
}

// Questions returns the number of questions in the catalog.
func (c *Catalog) Questions() int { return LastQuestion - FirstQuestion + 1 }
