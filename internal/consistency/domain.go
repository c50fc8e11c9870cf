// Package consistency scans the treasury data for anomalies. The scan is
// advisory: it never mutates data and reports problems as findings, returning
// errors only for infrastructure failures.
package consistency

import (
	"time"

	"github.com/shopspring/decimal"
)

// Severity ranks findings.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

// Label returns the display name.
func (s Severity) Label() string {
	switch s {
	case SeverityCritical:
		return "Crítico"
	case SeverityWarning:
		return "Atenção"
	default:
		return "Informativo"
	}
}

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// FindingType classifies what was found.
type FindingType string

const (
	TypeDuplicateEntry      FindingType = "DUPLICATE_ENTRY"
	TypeTotalsMismatch      FindingType = "TOTALS_MISMATCH"
	TypeInvalidReference    FindingType = "INVALID_REFERENCE"
	TypeInclusionMismatch   FindingType = "INCLUSION_MISMATCH"
	TypeApprovedOverlap     FindingType = "APPROVED_OVERLAP"
	TypeNegativeBalance     FindingType = "NEGATIVE_BALANCE"
	TypeZeroBalance         FindingType = "ZERO_BALANCE"
	TypeOrphanApportionment FindingType = "ORPHAN_APPORTIONMENT"
)

// Label returns the display name.
func (t FindingType) Label() string {
	switch t {
	case TypeDuplicateEntry:
		return "Lançamento Duplicado"
	case TypeTotalsMismatch:
		return "Totais Divergentes"
	case TypeInvalidReference:
		return "Referência Inválida"
	case TypeInclusionMismatch:
		return "Inclusão Inconsistente"
	case TypeApprovedOverlap:
		return "Fechamentos Sobrepostos"
	case TypeNegativeBalance:
		return "Saldo Negativo"
	case TypeZeroBalance:
		return "Saldo Zerado"
	case TypeOrphanApportionment:
		return "Rateio Órfão"
	}
	return string(t)
}

// Finding is one detected anomaly.
type Finding struct {
	Type     FindingType `json:"type"`
	Severity Severity    `json:"severity"`
	Entity   string      `json:"entity"`
	EntityID int64       `json:"entity_id"`
	Message  string      `json:"message"`
}

// Counts tallies findings per severity.
type Counts struct {
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
}

// Total sums every severity.
func (c Counts) Total() int {
	return c.Critical + c.Warning + c.Info
}

// CountFindings tallies findings.
func CountFindings(findings []Finding) Counts {
	var c Counts
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			c.Critical++
		case SeverityWarning:
			c.Warning++
		default:
			c.Info++
		}
	}
	return c
}

// Run is a persisted scan result.
type Run struct {
	ID          int64     `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	TriggeredBy int64     `json:"triggered_by,omitempty"`
	Counts      Counts    `json:"counts"`
	Findings    []Finding `json:"findings"`
}

// Snapshot is the bounded read-only view a scan inspects.
type Snapshot struct {
	CostCenters    []CostCenterRef
	PaymentMethods []PaymentMethodRef
	Entries        []EntryRow
	Closings       []ClosingRow
	Items          []ItemRow
}

// EntryWindow returns the first entry date a snapshot must load: since, or the
// start of the earliest loaded closing when that closing straddles since.
func EntryWindow(since time.Time, closings []ClosingRow) time.Time {
	from := since
	for _, c := range closings {
		if c.Start.Before(from) {
			from = c.Start
		}
	}
	return from
}

// CostCenterRef is the reference data of a cost center.
type CostCenterRef struct {
	ID      int64
	Name    string
	Deleted bool
}

// PaymentMethodRef is the reference data of a payment method.
type PaymentMethodRef struct {
	ID      int64
	Name    string
	Deleted bool
}

// EntryRow is a live ledger entry.
type EntryRow struct {
	ID              int64
	CostCenterID    int64
	PaymentMethodID int64
	CategoryID      int64
	Kind            string
	Date            time.Time
	Amount          decimal.Decimal
	Included        bool
	ClosingID       *int64
}

// ClosingRow carries the stored totals of a closing.
type ClosingRow struct {
	ID            int64
	CostCenterID  int64
	Start         time.Time
	End           time.Time
	Status        string
	Income        decimal.Decimal
	Expense       decimal.Decimal
	Apportionment decimal.Decimal
	FinalBalance  decimal.Decimal
}

// Locked reports whether the closing committed its entries.
func (c ClosingRow) Locked() bool {
	return c.Status == "APPROVED" || c.Status == "PROCESSED"
}

// ItemRow is a persisted apportionment item.
type ItemRow struct {
	ID            int64
	ClosingID     int64
	DestinationID int64
	Amount        decimal.Decimal
}

// Options tunes the checks.
type Options struct {
	// DuplicateWindowDays is how far apart two identical entries may be dated
	// and still count as duplicates.
	DuplicateWindowDays int
	// WindowMonths bounds the snapshot.
	WindowMonths int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{DuplicateWindowDays: 3, WindowMonths: 24}
}
