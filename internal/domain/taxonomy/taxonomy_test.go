package taxonomy_test

import (
	"testing"

	"github.com/okian/evalsync/internal/domain/taxonomy"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCatalog(t *testing.T) {
	Convey("Given the default catalog", t, func() {
		c := taxonomy.Default()

		Convey("Then it has four categories in questionnaire order", func() {
			cats := c.Categories()
			So(len(cats), ShouldEqual, 4)
			So(cats[0].Name, ShouldEqual, "Habilidades Comunicativas")
			So(cats[0].Color, ShouldEqual, "#667eea")
			So(cats[3].Name, ShouldEqual, "Habilidades Emocionais")
			So(len(c.Subgroups()), ShouldEqual, 15)
		})

		Convey("Then every question belongs to exactly one subgroup", func() {
			total := 0
			for _, sg := range c.Subgroups() {
				total += sg.Size()
			}
			So(total, ShouldEqual, 149)

			for q := taxonomy.FirstQuestion; q <= taxonomy.LastQuestion; q++ {
				sg, ok := c.Lookup(q)
				So(ok, ShouldBeTrue)
				So(sg.Contains(q), ShouldBeTrue)
			}
		})

		Convey("Then range boundaries map to the right subgroups", func() {
			cases := []struct {
				q        int
				subgroup string
				category string
			}{
				{1, "Contato Visual", "Habilidades Comunicativas"},
				{40, "Linguagem Receptiva", "Habilidades Comunicativas"},
				{41, "Expressão Facial", "Habilidades Sociais"},
				{89, "Auto Cuidado", "Habilidades Funcionais"},
				{90, "Vestir-se", "Habilidades Funcionais"},
				{109, "Uso do Banheiro", "Habilidades Funcionais"},
				{110, "Controle Inibitório", "Habilidades Emocionais"},
				{149, "Empatia", "Habilidades Emocionais"},
			}
			for _, tc := range cases {
				sg, ok := c.Lookup(tc.q)
				So(ok, ShouldBeTrue)
				So(sg.Name, ShouldEqual, tc.subgroup)
				So(sg.Category, ShouldEqual, tc.category)
			}
		})

		Convey("Then out of range questions are unmapped", func() {
			_, ok := c.Lookup(0)
			So(ok, ShouldBeFalse)
			_, ok = c.Lookup(150)
			So(ok, ShouldBeFalse)
		})

		Convey("Then names resolve case-insensitively", func() {
			sg, ok := c.Subgroup("  brincar ")
			So(ok, ShouldBeTrue)
			So(sg.Category, ShouldEqual, "Habilidades Sociais")
			So(c.CategoryOf("IMITAÇÃO"), ShouldEqual, "Habilidades Sociais")
			So(c.CategoryOf("desconhecido"), ShouldEqual, taxonomy.Other)
			So(c.Color("habilidades funcionais"), ShouldEqual, "#ffecd2")
		})

		Convey("Then ranks follow questionnaire order", func() {
			So(c.CategoryRank("Habilidades Sociais"), ShouldEqual, 1)
			So(c.CategoryRank(taxonomy.Other), ShouldEqual, 4)
			So(c.SubgroupRank("Contato Visual"), ShouldBeLessThan, c.SubgroupRank("Empatia"))
			So(c.SubgroupRank("nope"), ShouldEqual, 15)
		})

		Convey("Then returned slices do not alias the catalog", func() {
			cats := c.Categories()
			cats[0].Subgroups[0].Name = "changed"
			sg, _ := c.Lookup(1)
			So(sg.Name, ShouldEqual, "Contato Visual")
		})
	})
}
