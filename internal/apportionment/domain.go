package apportionment

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

// Rule transfers Percentage of an origin closing's base to a destination.
type Rule struct {
	ID              int64           `json:"id"`
	OriginID        int64           `json:"origin_id"`
	OriginName      string          `json:"origin_name,omitempty"`
	DestinationID   int64           `json:"destination_id"`
	DestinationName string          `json:"destination_name,omitempty"`
	Percentage      decimal.Decimal `json:"percentage"`
	Description     string          `json:"description"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Item is the point-in-time record of one rule applied to one approved closing.
type Item struct {
	ID            int64           `json:"id"`
	ClosingID     int64           `json:"closing_id"`
	RuleID        int64           `json:"rule_id"`
	OriginID      int64           `json:"origin_id"`
	DestinationID int64           `json:"destination_id"`
	Destination   string          `json:"destination,omitempty"`
	Base          decimal.Decimal `json:"base"`
	Percentage    decimal.Decimal `json:"percentage"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ItemsFromResult snapshots the computed shares for a closing.
func ItemsFromResult(closingID int64, res Result, at time.Time) []Item {
	items := make([]Item, 0, len(res.Shares))
	for _, s := range res.Shares {
		items = append(items, Item{
			ClosingID:     closingID,
			RuleID:        s.RuleID,
			OriginID:      s.OriginID,
			DestinationID: s.DestinationID,
			Base:          s.Base,
			Percentage:    s.Percentage,
			Amount:        s.Amount,
			CreatedAt:     at,
		})
	}
	return items
}

// PercentageScale is the number of decimal places stored for rule and item
// percentages (NUMERIC(5, 2)).
const PercentageScale = 2

// RuleInput carries create/update data.
type RuleInput struct {
	OriginID      int64
	DestinationID int64
	Percentage    decimal.Decimal
	Description   string
	Active        bool
}

// Validate enforces 0 < percentage <= 100 and distinct endpoints.
func (in RuleInput) Validate() error {
	var errs shared.ValidationErrors
	if in.OriginID <= 0 {
		errs.Add("origin_id", "centro de custo de origem obrigatório")
	}
	if in.DestinationID <= 0 {
		errs.Add("destination_id", "centro de custo de destino obrigatório")
	}
	if in.OriginID > 0 && in.OriginID == in.DestinationID {
		errs.Add("destination_id", "destino deve ser diferente da origem")
	}
	if !in.Percentage.IsPositive() || in.Percentage.GreaterThan(hundred) {
		errs.Add("percentage", "percentual deve estar entre 0 e 100")
	}
	if !in.Percentage.Equal(in.Percentage.Truncate(PercentageScale)) {
		errs.Add("percentage", "percentual aceita no máximo 2 casas decimais")
	}
	if len(strings.TrimSpace(in.Description)) > 200 {
		errs.Add("description", "descrição muito longa")
	}
	return errs.Err()
}

// ErrRuleNotFound indicates the rule id is unknown.
var ErrRuleNotFound = fmt.Errorf("apportionment: rule %w", shared.ErrNotFound)
