package pdi

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

var csvHeader = []string{"Paciente", "Data", "Categoria", "Subgrupo", "Questão", "Descrição", "Pontuação", "Nível"}

// WriteCSV writes one row per selected entry, in questionnaire order.
func WriteCSV(w io.Writer, p Plan) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range p.Entries() {
		row := []string{
			p.PatientName,
			p.EvaluationDate,
			e.Category,
			e.Subgroup,
			strconv.Itoa(e.Question),
			e.Description,
			strconv.Itoa(e.Score),
			e.Level.Label,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
