package reports

import (
	"html/template"

	"github.com/tesouraria-igreja/tesouraria/internal/view"
)

func funcMap() template.FuncMap {
	fm := view.FuncMap()
	fm["date"] = view.FormatDay
	fm["datetime"] = fm["formatDate"]
	return fm
}
