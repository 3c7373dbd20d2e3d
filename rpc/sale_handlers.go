package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"vestd/core"
	"vestd/sale"
)

func decodeParams(req *RPCRequest, target interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single params object")
	}
	if err := json.Unmarshal(req.Params[0], target); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

func parseAmountParam(field, raw string) (*big.Int, error) {
	if raw == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a decimal amount", field)
	}
	return value, nil
}

type quoteParams struct {
	Quantity uint64 `json:"quantity"`
	Code     string `json:"code"`
}

type quoteResult struct {
	Price string `json:"price"`
}

func (s *Server) handleQuote(w http.ResponseWriter, req *RPCRequest) string {
	var params quoteParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	price, err := s.node.Quote(params.Quantity, params.Code)
	if err != nil {
		s.writeDomainError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, quoteResult{Price: price.String()})
	return "ok"
}

type previewParams struct {
	Account   string `json:"account"`
	Pool      string `json:"pool"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type amountResult struct {
	Amount string `json:"amount"`
}

func (s *Server) handlePreviewClaimable(w http.ResponseWriter, req *RPCRequest) string {
	var params previewParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	account, err := sale.ParseAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	pool, err := sale.ParsePool(params.Pool)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	ts := params.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	amount, err := s.node.PreviewClaimable(account, ts, pool)
	if err != nil {
		s.writeDomainError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, amountResult{Amount: amount.String()})
	return "ok"
}

type balanceParams struct {
	Account string `json:"account"`
	Day     uint64 `json:"day"`
}

type balanceResult struct {
	Units         string `json:"units"`
	ReferralUnits string `json:"referralUnits"`
}

func (s *Server) handleBalanceAtDay(w http.ResponseWriter, req *RPCRequest) string {
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	account, err := sale.ParseAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	units := s.node.BalanceAtDay(account, params.Day)
	referral := s.node.ReferralUnitsAtDay(account, params.Day)
	writeResult(w, req.ID, balanceResult{Units: units.String(), ReferralUnits: referral.String()})
	return "ok"
}

type accountParams struct {
	Account string `json:"account"`
}

func (s *Server) handleBuybackBalance(w http.ResponseWriter, req *RPCRequest) string {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	account, err := sale.ParseAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	writeResult(w, req.ID, amountResult{Amount: s.node.BuybackBalance(account).String()})
	return "ok"
}

type resolveCodeParams struct {
	Code string `json:"code"`
}

type resolveCodeResult struct {
	Owner string `json:"owner"`
	Found bool   `json:"found"`
}

func (s *Server) handleResolveCode(w http.ResponseWriter, req *RPCRequest) string {
	var params resolveCodeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	owner, ok := s.node.ResolveCode(params.Code)
	result := resolveCodeResult{Found: ok}
	if ok {
		result.Owner = owner.Hex()
	}
	writeResult(w, req.ID, result)
	return "ok"
}

type totalsResult struct {
	UnitsSold          uint64 `json:"unitsSold"`
	LastFinalizedDay   uint64 `json:"lastFinalizedDay"`
	CurrentDay         uint64 `json:"currentDay"`
	CumulativeUnits    string `json:"cumulativeUnits"`
	CumulativeReferral string `json:"cumulativeReferral"`
	Paused             bool   `json:"paused"`
}

func (s *Server) handleTotals(w http.ResponseWriter, req *RPCRequest) string {
	totals := s.node.Totals()
	writeResult(w, req.ID, totalsResult{
		UnitsSold:          totals.UnitsSold,
		LastFinalizedDay:   totals.LastFinalizedDay,
		CurrentDay:         totals.CurrentDay,
		CumulativeUnits:    totals.CumulativeUnits.String(),
		CumulativeReferral: totals.CumulativeReferral.String(),
		Paused:             totals.Paused,
	})
	return "ok"
}

type eventResult struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func (s *Server) handleEvents(w http.ResponseWriter, req *RPCRequest) string {
	events := s.node.Events()
	results := make([]eventResult, len(events))
	for i, event := range events {
		results[i] = eventResult{Type: event.Type, Attributes: event.Attributes}
	}
	writeResult(w, req.ID, results)
	return "ok"
}

type purchaseParams struct {
	Account  string `json:"account"`
	Quantity uint64 `json:"quantity"`
	Code     string `json:"code,omitempty"`
	Paid     string `json:"paid"`
}

type purchaseResult struct {
	EffectiveDay uint64 `json:"effectiveDay"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, req *RPCRequest) string {
	var params purchaseParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	account, err := sale.ParseAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	paid, err := parseAmountParam("paid", params.Paid)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	effDay, err := s.node.Purchase(account, params.Quantity, params.Code, paid)
	if err != nil {
		s.writeDomainError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, purchaseResult{EffectiveDay: effDay})
	return "ok"
}

type transferParams struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Quantity uint64 `json:"quantity"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, req *RPCRequest) string {
	var params transferParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	from, err := sale.ParseAddress(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	to, err := sale.ParseAddress(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	if err := s.node.Transfer(from, to, params.Quantity); err != nil {
		s.writeDomainError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
	return "ok"
}

type claimParams struct {
	Account string `json:"account"`
	Pool    string `json:"pool"`
}

type claimResult struct {
	Paid string `json:"paid"`
}

func (s *Server) handleClaim(w http.ResponseWriter, req *RPCRequest) string {
	var params claimParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	account, err := sale.ParseAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	pool, err := sale.ParsePool(params.Pool)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	paid, err := s.node.Claim(account, pool)
	if err != nil {
		s.writeDomainError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, claimResult{Paid: paid.String()})
	return "ok"
}

func (s *Server) handleClaimBuyback(w http.ResponseWriter, req *RPCRequest) string {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	account, err := sale.ParseAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	paid, err := s.node.ClaimBuyback(account)
	if err != nil {
		s.writeDomainError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, claimResult{Paid: paid.String()})
	return "ok"
}

type assignCodeParams struct {
	Owner     string `json:"owner"`
	Code      string `json:"code"`
	Overwrite bool   `json:"overwrite,omitempty"`
}

type assignCodeResult struct {
	Code string `json:"code"`
}

func (s *Server) handleAssignCode(w http.ResponseWriter, req *RPCRequest) string {
	var params assignCodeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	owner, err := sale.ParseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	code, err := s.node.AssignCode(owner, params.Code, params.Overwrite)
	if err != nil {
		s.writeDomainError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, assignCodeResult{Code: code})
	return "ok"
}

type scheduleParams struct {
	Tranches []trancheParams `json:"tranches"`
}

type trancheParams struct {
	End          int64  `json:"end"`
	BuyerPool    string `json:"buyerPool"`
	ReferrerPool string `json:"referrerPool"`
}

func (s *Server) handleInitializeSchedule(w http.ResponseWriter, req *RPCRequest) string {
	var params scheduleParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	ends := make([]int64, len(params.Tranches))
	buyers := make([]*big.Int, len(params.Tranches))
	referrers := make([]*big.Int, len(params.Tranches))
	for i, tranche := range params.Tranches {
		ends[i] = tranche.End
		buyer, err := parseAmountParam(fmt.Sprintf("tranches[%d].buyerPool", i), tranche.BuyerPool)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return "error"
		}
		referrer, err := parseAmountParam(fmt.Sprintf("tranches[%d].referrerPool", i), tranche.ReferrerPool)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return "error"
		}
		buyers[i] = buyer
		referrers[i] = referrer
	}
	if err := s.node.InitializeSchedule(ends, buyers, referrers); err != nil {
		s.writeDomainError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
	return "ok"
}

type backfillParams struct {
	Account       string `json:"account"`
	Code          string `json:"code,omitempty"`
	Quantity      uint64 `json:"quantity"`
	PurchasedAt   int64  `json:"purchasedAt"`
	Paid          string `json:"paid,omitempty"`
	CreditBuyback bool   `json:"creditBuyback,omitempty"`
}

func (p backfillParams) toEntry() (core.BackfillEntry, error) {
	account, err := sale.ParseAddress(p.Account)
	if err != nil {
		return core.BackfillEntry{}, err
	}
	entry := core.BackfillEntry{
		Account:       account,
		Code:          p.Code,
		Quantity:      p.Quantity,
		PurchasedAt:   p.PurchasedAt,
		CreditBuyback: p.CreditBuyback,
	}
	if p.Paid != "" {
		paid, err := parseAmountParam("paid", p.Paid)
		if err != nil {
			return core.BackfillEntry{}, err
		}
		entry.Paid = paid
	}
	return entry, nil
}

func (s *Server) handleBackfill(w http.ResponseWriter, req *RPCRequest) string {
	var params backfillParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	entry, err := params.toEntry()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	if err := s.node.Backfill(entry); err != nil {
		s.writeDomainError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
	return "ok"
}

type bulkBackfillParams struct {
	Entries []backfillParams `json:"entries"`
}

type bulkBackfillResult struct {
	BatchID string `json:"batchId"`
	Applied int    `json:"applied"`
}

func (s *Server) handleBulkBackfill(w http.ResponseWriter, req *RPCRequest) string {
	var params bulkBackfillParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	entries := make([]core.BackfillEntry, len(params.Entries))
	for i, raw := range params.Entries {
		entry, err := raw.toEntry()
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("entries[%d]: %v", i, err), nil)
			return "error"
		}
		entries[i] = entry
	}
	batchID, err := s.node.BulkBackfill(entries)
	if err != nil {
		s.writeDomainError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, bulkBackfillResult{BatchID: batchID, Applied: len(entries)})
	return "ok"
}

type bulkAssignParams struct {
	Entries   []bulkAssignEntry `json:"entries"`
	Overwrite bool              `json:"overwrite,omitempty"`
}

type bulkAssignEntry struct {
	Owner string `json:"owner"`
	Code  string `json:"code"`
}

func (s *Server) handleBulkAssignCodes(w http.ResponseWriter, req *RPCRequest) string {
	var params bulkAssignParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "error"
	}
	entries := make([]core.CodeAssignment, len(params.Entries))
	for i, raw := range params.Entries {
		owner, err := sale.ParseAddress(raw.Owner)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("entries[%d]: %v", i, err), nil)
			return "error"
		}
		entries[i] = core.CodeAssignment{Owner: owner, Code: raw.Code}
	}
	if err := s.node.BulkAssignCodes(entries, params.Overwrite); err != nil {
		s.writeDomainError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, map[string]int{"applied": len(entries)})
	return "ok"
}

type advanceParams struct {
	MaxDays uint64 `json:"maxDays,omitempty"`
}

type advanceResult struct {
	FinalizedDays uint64 `json:"finalizedDays"`
}

func (s *Server) handleAdvance(w http.ResponseWriter, req *RPCRequest) string {
	var params advanceParams
	if len(req.Params) > 0 {
		if err := decodeParams(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return "error"
		}
	}
	maxDays := params.MaxDays
	if maxDays == 0 {
		// Unbounded: the loop stops at the first not-yet-elapsed day.
		maxDays = ^uint64(0)
	}
	count, err := s.node.Advance(maxDays)
	if err != nil {
		s.writeDomainError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, advanceResult{FinalizedDays: count})
	return "ok"
}

func (s *Server) handlePause(w http.ResponseWriter, req *RPCRequest) string {
	if err := s.node.Pause(); err != nil {
		s.writeDomainError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, map[string]bool{"paused": true})
	return "ok"
}

func (s *Server) handleResume(w http.ResponseWriter, req *RPCRequest) string {
	if err := s.node.Resume(); err != nil {
		s.writeDomainError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, map[string]bool{"paused": false})
	return "ok"
}
