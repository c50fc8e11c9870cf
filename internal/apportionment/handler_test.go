package apportionment

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
)

type stubRuleService struct {
	rules []Rule
	opts  Options
}

func (s *stubRuleService) ListRules(context.Context, int64) ([]Rule, error) { return s.rules, nil }

func (s *stubRuleService) CreateRule(_ context.Context, _ int64, in RuleInput) (Rule, error) {
	if err := in.Validate(); err != nil {
		return Rule{}, err
	}
	return Rule{ID: 1, OriginID: in.OriginID, DestinationID: in.DestinationID, Percentage: in.Percentage, Active: in.Active}, nil
}

func (s *stubRuleService) UpdateRule(context.Context, int64, int64, RuleInput) (Rule, error) {
	return Rule{}, nil
}

func (s *stubRuleService) Deactivate(context.Context, int64, int64) (Rule, error) { return Rule{}, nil }

func (s *stubRuleService) Preview(_ context.Context, _ int64, income, expense decimal.Decimal) (Result, error) {
	return Compute(BaseFor(income, expense, s.opts.Base), s.rules, s.opts), nil
}

func newTestHandler(svc ruleService) *Handler {
	return NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, rbac.Middleware{})
}

func TestCreateRuleRejectsOutOfRangePercentage(t *testing.T) {
	h := newTestHandler(&stubRuleService{})
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"origin_id":2,"destination_id":1,"percentage":"120"}`))
	rr := httptest.NewRecorder()
	h.create(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "percentage")
}

func TestCreateRuleRejectsSameEndpoints(t *testing.T) {
	h := newTestHandler(&stubRuleService{})
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"origin_id":2,"destination_id":2,"percentage":"10"}`))
	rr := httptest.NewRecorder()
	h.create(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPreviewReturnsShares(t *testing.T) {
	svc := &stubRuleService{
		rules: []Rule{{ID: 1, OriginID: 2, DestinationID: 1, Percentage: decimal.NewFromInt(10), Active: true}},
		opts:  DefaultOptions(),
	}
	h := newTestHandler(svc)
	req := httptest.NewRequest(http.MethodPost, "/preview", strings.NewReader(`{"origin_id":2,"income":"1000","expense":"300"}`))
	rr := httptest.NewRecorder()
	h.preview(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var res Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.Len(t, res.Shares, 1)
	require.True(t, res.Total.Equal(decimal.NewFromInt(70)))
}
