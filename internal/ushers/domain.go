// Package ushers keeps the usher (porteiro/recepcionista) registry of each
// cost center and generates fair service rotations.
package ushers

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

// Usher serves at the door during services.
type Usher struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone,omitempty"`
	CostCenterID int64     `json:"cost_center_id"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Input carries usher data.
type Input struct {
	Name         string
	Phone        string
	CostCenterID int64
	Active       bool
}

// Validate checks usher fields.
func (in Input) Validate() error {
	var errs shared.ValidationErrors
	name := strings.TrimSpace(in.Name)
	if name == "" {
		errs.Add("name", "nome obrigatório")
	} else if len(name) > 120 {
		errs.Add("name", "nome muito longo")
	}
	if len(in.Phone) > 30 {
		errs.Add("phone", "telefone muito longo")
	}
	if in.CostCenterID <= 0 {
		errs.Add("cost_center_id", "centro de custo obrigatório")
	}
	return errs.Err()
}

// Assignment puts one usher in one slot of one service.
type Assignment struct {
	ID           int64     `json:"id"`
	CostCenterID int64     `json:"cost_center_id"`
	ServiceDate  time.Time `json:"service_date"`
	Slot         int       `json:"slot"`
	UsherID      int64     `json:"usher_id"`
	UsherName    string    `json:"usher_name,omitempty"`
}

// RotationInput describes the services to staff.
type RotationInput struct {
	CostCenterID int64
	From         time.Time
	To           time.Time
	Weekdays     []time.Weekday
	PerService   int
}

const maxRotationDays = 366

// Validate checks the request shape; the active usher count is checked by the service.
func (in RotationInput) Validate() error {
	var errs shared.ValidationErrors
	if in.CostCenterID <= 0 {
		errs.Add("cost_center_id", "centro de custo obrigatório")
	}
	switch {
	case in.From.IsZero() || in.To.IsZero():
		errs.Add("period", "período obrigatório")
	case in.To.Before(in.From):
		errs.Add("period", "data inicial deve ser anterior ou igual à data final")
	case in.To.Sub(in.From) > maxRotationDays*24*time.Hour:
		errs.Add("period", "período máximo de um ano")
	}
	if len(in.Weekdays) == 0 {
		errs.Add("weekdays", "informe ao menos um dia de culto")
	}
	for _, d := range in.Weekdays {
		if d < time.Sunday || d > time.Saturday {
			errs.Add("weekdays", "dia da semana inválido")
			break
		}
	}
	if in.PerService < 1 {
		errs.Add("per_service", "informe ao menos um porteiro por culto")
	}
	return errs.Err()
}

// ServiceDates lists the dates in [from, to] falling on the given weekdays.
func ServiceDates(from, to time.Time, weekdays []time.Weekday) []time.Time {
	want := make(map[time.Weekday]bool, len(weekdays))
	for _, d := range weekdays {
		want[d] = true
	}
	var out []time.Time
	for d := shared.DateOnly(from); !d.After(to); d = d.AddDate(0, 0, 1) {
		if want[d.Weekday()] {
			out = append(out, d)
		}
	}
	return out
}

// Rotate assigns perService ushers to each date, walking the ushers in id
// order round-robin starting at index start. Every usher serves either
// floor(n) or ceil(n) times where n is the average load.
func Rotate(ushers []Usher, dates []time.Time, perService, start int) []Assignment {
	if len(ushers) == 0 || perService <= 0 {
		return nil
	}
	ordered := append([]Usher(nil), ushers...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	if perService > len(ordered) {
		perService = len(ordered)
	}
	next := ((start % len(ordered)) + len(ordered)) % len(ordered)
	out := make([]Assignment, 0, len(dates)*perService)
	for _, date := range dates {
		for slot := 1; slot <= perService; slot++ {
			u := ordered[next]
			out = append(out, Assignment{
				CostCenterID: u.CostCenterID,
				ServiceDate:  date,
				Slot:         slot,
				UsherID:      u.ID,
				UsherName:    u.Name,
			})
			next = (next + 1) % len(ordered)
		}
	}
	return out
}

// StartAfter returns the rotation index following lastUsherID, or 0.
func StartAfter(ushers []Usher, lastUsherID int64) int {
	ordered := append([]Usher(nil), ushers...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	for i, u := range ordered {
		if u.ID > lastUsherID {
			return i
		}
	}
	return 0
}

// ErrUsherNotFound is returned for unknown ushers.
var ErrUsherNotFound = fmt.Errorf("ushers: usher %w", shared.ErrNotFound)
