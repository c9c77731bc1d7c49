package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"LendLedger/internal/core"
	"LendLedger/internal/observability"
	"LendLedger/internal/query"
	"LendLedger/internal/state"
)

// HTTPServer is the JSON API over the pool. Actions and live views go
// straight to the in-memory engine; history and projections come from
// the query service.
type HTTPServer struct {
	pool    *core.Pool
	qs      *query.QueryService
	health  *observability.HealthChecker
	metrics *observability.Metrics
	addr    string
	log     zerolog.Logger
	server  *http.Server
}

func NewHTTPServer(addr string, pool *core.Pool, qs *query.QueryService, health *observability.HealthChecker, metrics *observability.Metrics) *HTTPServer {
	return &HTTPServer{
		pool:    pool,
		qs:      qs,
		health:  health,
		metrics: metrics,
		addr:    addr,
		log:     observability.NewLogger("http"),
	}
}

// Router builds the full route table.
func (s *HTTPServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/healthz", s.health.LivenessHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.health.ReadinessHandler).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()

	// Actions.
	api.HandleFunc("/actions/deposit", s.handleDeposit).Methods(http.MethodPost)
	api.HandleFunc("/actions/redeem", s.handleRedeem).Methods(http.MethodPost)
	api.HandleFunc("/actions/borrow", s.handleBorrow).Methods(http.MethodPost)
	api.HandleFunc("/actions/repay", s.handleRepay).Methods(http.MethodPost)
	api.HandleFunc("/actions/collateral", s.handleSetCollateral).Methods(http.MethodPost)
	api.HandleFunc("/actions/debt-transfer", s.handleTransferDebt).Methods(http.MethodPost)
	api.HandleFunc("/actions/market-rule", s.handleChooseMarketRule).Methods(http.MethodPost)

	// Live views.
	api.HandleFunc("/assets", s.handleAssets).Methods(http.MethodGet)
	api.HandleFunc("/reserves/{asset}", s.handleReserve).Methods(http.MethodGet)
	api.HandleFunc("/prices", s.handlePrices).Methods(http.MethodGet)
	api.HandleFunc("/users/{user}/reserves/{asset}", s.handleUserReserve).Methods(http.MethodGet)
	api.HandleFunc("/users/{user}/config", s.handleUserConfig).Methods(http.MethodGet)
	api.HandleFunc("/users/{user}/free-collateral", s.handleFreeCollateral).Methods(http.MethodGet)

	// Projections and history.
	api.HandleFunc("/users/{user}/positions", s.handleUserPositions).Methods(http.MethodGet)
	api.HandleFunc("/users/{user}/operations", s.handleOperationHistory).Methods(http.MethodGet)
	api.HandleFunc("/market-rules", s.handleMarketRules).Methods(http.MethodGet)

	// Admin.
	api.HandleFunc("/admin/assets", s.handleRegisterAsset).Methods(http.MethodPost)
	api.HandleFunc("/admin/reserves/{asset}/active", s.handleSetActive).Methods(http.MethodPost)
	api.HandleFunc("/admin/reserves/{asset}/frozen", s.handleSetFrozen).Methods(http.MethodPost)
	api.HandleFunc("/admin/reserves/{asset}/restrictions", s.handleSetRestrictions).Methods(http.MethodPut)
	api.HandleFunc("/admin/reserves/{asset}/parameters", s.handleSetParameters).Methods(http.MethodPut)
	api.HandleFunc("/admin/market-rules", s.handleAddMarketRule).Methods(http.MethodPost)
	api.HandleFunc("/admin/market-rules/{rule}/assets/{asset_id}", s.handleModifyAssetRule).Methods(http.MethodPut)
	api.HandleFunc("/admin/protocol-income", s.handleProtocolIncome).Methods(http.MethodGet)
	api.HandleFunc("/admin/protocol-income/withdrawals", s.handleTakeIncome).Methods(http.MethodPost)
	api.HandleFunc("/admin/integrity", s.handleIntegrity).Methods(http.MethodGet)

	return r
}

// Start serves until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// instrument records per-route request counts and latency.
func (s *HTTPServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
		if rec.status >= 500 {
			s.metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// --- action handlers ---

type actionRequest struct {
	Caller     string  `json:"caller"`
	OnBehalfOf string  `json:"on_behalf_of,omitempty"`
	Asset      string  `json:"asset"`
	Amount     *string `json:"amount,omitempty"`
	Mode       string  `json:"mode,omitempty"`
}

func (s *HTTPServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	caller, onBehalfOf, amount, ok := s.decodeAction(w, r, &req, true)
	if !ok {
		return
	}
	if err := s.pool.Deposit(r.Context(), caller, onBehalfOf, req.Asset, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sequence": s.pool.Sequence()})
}

func (s *HTTPServer) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	caller, onBehalfOf, amount, ok := s.decodeAction(w, r, &req, false)
	if !ok {
		return
	}
	redeemed, err := s.pool.Redeem(r.Context(), caller, onBehalfOf, req.Asset, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"amount":   redeemed.String(),
		"sequence": s.pool.Sequence(),
	})
}

func (s *HTTPServer) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	caller, onBehalfOf, amount, ok := s.decodeAction(w, r, &req, true)
	if !ok {
		return
	}
	if err := s.pool.Borrow(r.Context(), caller, onBehalfOf, req.Asset, amount, parseMode(req.Mode)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sequence": s.pool.Sequence()})
}

func (s *HTTPServer) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	caller, onBehalfOf, amount, ok := s.decodeAction(w, r, &req, false)
	if !ok {
		return
	}
	repaid, err := s.pool.Repay(r.Context(), caller, onBehalfOf, req.Asset, amount, parseMode(req.Mode))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"amount":   repaid.String(),
		"sequence": s.pool.Sequence(),
	})
}

func (s *HTTPServer) handleSetCollateral(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		Asset  string `json:"asset"`
		Enable bool   `json:"enable"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseUUIDField(w, "caller", req.Caller)
	if !ok {
		return
	}
	if err := s.pool.SetAsCollateral(r.Context(), caller, req.Asset, req.Enable); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sequence": s.pool.Sequence()})
}

func (s *HTTPServer) handleTransferDebt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		Asset  string `json:"asset"`
		From   string `json:"from"`
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseUUIDField(w, "caller", req.Caller)
	if !ok {
		return
	}
	from, ok := parseUUIDField(w, "from", req.From)
	if !ok {
		return
	}
	to, ok := parseUUIDField(w, "to", req.To)
	if !ok {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := s.pool.TransferDebt(r.Context(), caller, req.Asset, from, to, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sequence": s.pool.Sequence()})
}

func (s *HTTPServer) handleChooseMarketRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		RuleID uint32 `json:"rule_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseUUIDField(w, "caller", req.Caller)
	if !ok {
		return
	}
	if err := s.pool.ChooseMarketRule(r.Context(), caller, req.RuleID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sequence": s.pool.Sequence()})
}

// --- view handlers ---

func (s *HTTPServer) handleAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"assets": s.pool.ViewRegisteredAssets()})
}

func (s *HTTPServer) handleReserve(w http.ResponseWriter, r *http.Request) {
	reserve, err := s.pool.ViewReserveData(mux.Vars(r)["asset"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reserve)
}

func (s *HTTPServer) handlePrices(w http.ResponseWriter, r *http.Request) {
	var assets []string
	if q := r.URL.Query().Get("assets"); q != "" {
		assets = strings.Split(q, ",")
	}
	prices, err := s.pool.ViewPrices(assets)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"prices": prices})
}

func (s *HTTPServer) handleUserReserve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	user, ok := parseUUIDField(w, "user", vars["user"])
	if !ok {
		return
	}
	position, err := s.pool.ViewUserReserveData(vars["asset"], user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

func (s *HTTPServer) handleUserConfig(w http.ResponseWriter, r *http.Request) {
	user, ok := parseUUIDField(w, "user", mux.Vars(r)["user"])
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.pool.ViewUserConfig(user))
}

func (s *HTTPServer) handleFreeCollateral(w http.ResponseWriter, r *http.Request) {
	user, ok := parseUUIDField(w, "user", mux.Vars(r)["user"])
	if !ok {
		return
	}
	summary, err := s.pool.ViewFreeCollateral(user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"collateral_value": summary.CollateralValue.String(),
		"debt_value":       summary.DebtValue.String(),
		"free_collateral":  summary.FreeCollateral().String(),
		"healthy":          summary.IsHealthy(),
	})
}

func (s *HTTPServer) handleUserPositions(w http.ResponseWriter, r *http.Request) {
	user, ok := parseUUIDField(w, "user", mux.Vars(r)["user"])
	if !ok {
		return
	}
	positions, err := s.qs.GetUserReserves(r.Context(), user)
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": positions})
}

func (s *HTTPServer) handleOperationHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := parseUUIDField(w, "user", mux.Vars(r)["user"])
	if !ok {
		return
	}

	q := r.URL.Query()
	var asset *string
	if a := q.Get("asset"); a != "" {
		asset = &a
	}
	limit := 50
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 500 {
		limit = l
	}
	var after *int64
	if a, err := strconv.ParseInt(q.Get("after"), 10, 64); err == nil && a > 0 {
		after = &a
	}

	history, err := s.qs.GetOperationHistory(r.Context(), user, asset, limit, after)
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"operations": history})
}

func (s *HTTPServer) handleMarketRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.qs.GetMarketRules(r.Context())
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

// --- admin handlers ---

type parametersJSON struct {
	RatePoints              [7]*big.Int `json:"rate_points"`
	IncomeForSuppliersShare int64       `json:"income_for_suppliers_share"`
	FlashLoanFee            int64       `json:"flash_loan_fee"`
	StableBorrowEnabled     bool        `json:"stable_borrow_enabled"`
}

func (p parametersJSON) toState() state.ReserveParameters {
	return state.ReserveParameters{
		RateModel:               &state.InterestRateModel{RatePoints: p.RatePoints},
		IncomeForSuppliersShare: p.IncomeForSuppliersShare,
		FlashLoanFee:            p.FlashLoanFee,
		StableBorrowEnabled:     p.StableBorrowEnabled,
	}
}

type restrictionsJSON struct {
	MaximalTotalSupply *string `json:"maximal_total_supply,omitempty"`
	MaximalTotalDebt   *string `json:"maximal_total_debt,omitempty"`
	MinimalCollateral  *string `json:"minimal_collateral,omitempty"`
	MinimalDebt        *string `json:"minimal_debt,omitempty"`
}

func (j restrictionsJSON) toState() (state.ReserveRestrictions, error) {
	var out state.ReserveRestrictions
	for _, f := range []struct {
		src *string
		dst **big.Int
	}{
		{j.MaximalTotalSupply, &out.MaximalTotalSupply},
		{j.MaximalTotalDebt, &out.MaximalTotalDebt},
		{j.MinimalCollateral, &out.MinimalCollateral},
		{j.MinimalDebt, &out.MinimalDebt},
	} {
		if f.src == nil {
			continue
		}
		v, ok := new(big.Int).SetString(*f.src, 10)
		if !ok {
			return out, fmt.Errorf("bad amount %q", *f.src)
		}
		*f.dst = v
	}
	return out, nil
}

type assetRuleJSON struct {
	CollateralCoefficient *int64 `json:"collateral_coefficient,omitempty"`
	BorrowCoefficient     *int64 `json:"borrow_coefficient,omitempty"`
	Penalty               *int64 `json:"penalty,omitempty"`
}

func (j *assetRuleJSON) toState() *state.AssetRule {
	if j == nil {
		return nil
	}
	return &state.AssetRule{
		CollateralCoefficient: j.CollateralCoefficient,
		BorrowCoefficient:     j.BorrowCoefficient,
		Penalty:               j.Penalty,
	}
}

func (s *HTTPServer) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller            string           `json:"caller"`
		Asset             string           `json:"asset"`
		Decimals          uint8            `json:"decimals"`
		Parameters        parametersJSON   `json:"parameters"`
		Restrictions      restrictionsJSON `json:"restrictions"`
		DefaultRule       *assetRuleJSON   `json:"default_rule,omitempty"`
		SupplyToken       string           `json:"supply_token,omitempty"`
		VariableDebtToken string           `json:"variable_debt_token,omitempty"`
		StableDebtToken   string           `json:"stable_debt_token,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseUUIDField(w, "caller", req.Caller)
	if !ok {
		return
	}
	restrictions, err := req.Restrictions.toState()
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	reg := core.AssetRegistration{
		Asset:        req.Asset,
		Decimals:     req.Decimals,
		Parameters:   req.Parameters.toState(),
		Restrictions: restrictions,
		DefaultRule:  req.DefaultRule.toState(),
	}
	for _, f := range []struct {
		src string
		dst *uuid.UUID
	}{
		{req.SupplyToken, &reg.SupplyToken},
		{req.VariableDebtToken, &reg.VariableDebtToken},
		{req.StableDebtToken, &reg.StableDebtToken},
	} {
		if f.src == "" {
			continue
		}
		id, err := uuid.Parse(f.src)
		if err != nil {
			writeBadRequest(w, fmt.Sprintf("bad token id %q", f.src))
			return
		}
		*f.dst = id
	}

	id, err := s.pool.RegisterAsset(r.Context(), caller, reg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"reserve_id": id})
}

func (s *HTTPServer) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		Active bool   `json:"active"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseUUIDField(w, "caller", req.Caller)
	if !ok {
		return
	}
	if err := s.pool.SetReserveIsActive(r.Context(), caller, mux.Vars(r)["asset"], req.Active); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sequence": s.pool.Sequence()})
}

func (s *HTTPServer) handleSetFrozen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		Frozen bool   `json:"frozen"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseUUIDField(w, "caller", req.Caller)
	if !ok {
		return
	}
	if err := s.pool.SetReserveIsFrozen(r.Context(), caller, mux.Vars(r)["asset"], req.Frozen); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sequence": s.pool.Sequence()})
}

func (s *HTTPServer) handleSetRestrictions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller       string           `json:"caller"`
		Restrictions restrictionsJSON `json:"restrictions"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseUUIDField(w, "caller", req.Caller)
	if !ok {
		return
	}
	restrictions, err := req.Restrictions.toState()
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := s.pool.SetReserveRestrictions(r.Context(), caller, mux.Vars(r)["asset"], restrictions); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sequence": s.pool.Sequence()})
}

func (s *HTTPServer) handleSetParameters(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller     string         `json:"caller"`
		Parameters parametersJSON `json:"parameters"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseUUIDField(w, "caller", req.Caller)
	if !ok {
		return
	}
	if err := s.pool.SetReserveParameters(r.Context(), caller, mux.Vars(r)["asset"], req.Parameters.toState()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sequence": s.pool.Sequence()})
}

func (s *HTTPServer) handleAddMarketRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string           `json:"caller"`
		Rule   []*assetRuleJSON `json:"rule"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseUUIDField(w, "caller", req.Caller)
	if !ok {
		return
	}
	rule := make(state.MarketRule, len(req.Rule))
	for i, entry := range req.Rule {
		rule[i] = entry.toState()
	}
	id, err := s.pool.AddMarketRule(r.Context(), caller, rule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"rule_id": id})
}

func (s *HTTPServer) handleModifyAssetRule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ruleID, err := strconv.ParseUint(vars["rule"], 10, 32)
	if err != nil {
		writeBadRequest(w, "bad rule id")
		return
	}
	assetID, err := strconv.ParseUint(vars["asset_id"], 10, 8)
	if err != nil {
		writeBadRequest(w, "bad asset id")
		return
	}

	var req struct {
		Caller string        `json:"caller"`
		Entry  assetRuleJSON `json:"entry"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseUUIDField(w, "caller", req.Caller)
	if !ok {
		return
	}
	if err := s.pool.ModifyAssetRule(r.Context(), caller, uint32(ruleID), uint8(assetID), req.Entry.toState()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sequence": s.pool.Sequence()})
}

func (s *HTTPServer) handleProtocolIncome(w http.ResponseWriter, r *http.Request) {
	var assets []string
	if q := r.URL.Query().Get("assets"); q != "" {
		assets = strings.Split(q, ",")
	}
	income, err := s.pool.ViewProtocolIncome(assets)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"income": income})
}

func (s *HTTPServer) handleTakeIncome(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string   `json:"caller"`
		To     string   `json:"to"`
		Assets []string `json:"assets,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseUUIDField(w, "caller", req.Caller)
	if !ok {
		return
	}
	to, ok := parseUUIDField(w, "to", req.To)
	if !ok {
		return
	}
	taken, err := s.pool.TakeProtocolIncome(r.Context(), caller, req.Assets, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"taken": taken})
}

func (s *HTTPServer) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.qs.VerifyIntegrity(r.Context())
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- helpers ---

// decodeAction handles the shared shape of the four balance actions.
// onBehalfOf defaults to the caller when omitted.
func (s *HTTPServer) decodeAction(w http.ResponseWriter, r *http.Request, req *actionRequest, amountRequired bool) (caller, onBehalfOf uuid.UUID, amount *big.Int, ok bool) {
	if !decodeBody(w, r, req) {
		return
	}
	caller, ok = parseUUIDField(w, "caller", req.Caller)
	if !ok {
		return
	}
	onBehalfOf = caller
	if req.OnBehalfOf != "" {
		onBehalfOf, ok = parseUUIDField(w, "on_behalf_of", req.OnBehalfOf)
		if !ok {
			return
		}
	}
	if req.Amount != nil {
		var err error
		amount, err = parseAmount(*req.Amount)
		if err != nil {
			writeBadRequest(w, err.Error())
			return caller, onBehalfOf, nil, false
		}
	} else if amountRequired {
		writeBadRequest(w, "amount is required")
		return caller, onBehalfOf, nil, false
	}
	return caller, onBehalfOf, amount, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, fmt.Sprintf("bad request body: %v", err))
		return false
	}
	return true
}

func parseUUIDField(w http.ResponseWriter, name, value string) (uuid.UUID, bool) {
	id, err := uuid.Parse(value)
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("bad %s: %v", name, err))
		return uuid.Nil, false
	}
	return id, true
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("bad amount %q", s)
	}
	return v, nil
}

func parseMode(s string) core.DebtMode {
	switch s {
	case "variable":
		return core.DebtVariable
	case "stable":
		return core.DebtStable
	default:
		return core.DebtUnspecified
	}
}

// statusFor maps error kinds onto HTTP status codes.
func statusFor(err error) int {
	switch core.KindOf(err) {
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindAmount, core.KindMode:
		return http.StatusBadRequest
	case core.KindState:
		return http.StatusConflict
	case core.KindSolvency:
		return http.StatusUnprocessableEntity
	case core.KindOracle:
		return http.StatusServiceUnavailable
	case core.KindAccess:
		return http.StatusForbidden
	case core.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]interface{}{
		"error":     core.ReasonOf(err),
		"retryable": core.Retryable(err),
	})
}

func writeInternal(w http.ResponseWriter, err error) {
	writeError(w, errors.New(err.Error()))
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":   "BadRequest",
		"message": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
