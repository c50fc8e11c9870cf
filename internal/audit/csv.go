package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"time"
)

// WriteCSV encodes rows as a spreadsheet friendly CSV.
func WriteCSV(rows []TimelineRow) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write([]string{"data_hora", "usuario", "acao", "entidade", "id_entidade", "detalhes"}); err != nil {
		return nil, err
	}
	for _, row := range rows {
		details := ""
		if len(row.Details) > 0 {
			b, err := json.Marshal(row.Details)
			if err != nil {
				return nil, err
			}
			details = string(b)
		}
		actor := row.Actor()
		if actor == "" {
			actor = strconv.FormatInt(row.ActorID, 10)
		}
		if err := w.Write([]string{
			row.At.Format(time.RFC3339), actor, row.Action, row.Entity, row.EntityID, details,
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
