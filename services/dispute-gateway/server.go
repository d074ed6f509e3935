package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tribunal/ledger"
	"tribunal/native/dispute"
	"tribunal/observability/metrics"
)

const confirmationWait = 15 * time.Second

// Server exposes the dispute read model and action surface over HTTP.
type Server struct {
	engine      *dispute.Engine
	coordinator *dispute.AppealCoordinator
	client      ledger.Client
	watcher     *EventWatcher
	store       *SQLiteStore
	logger      *slog.Logger
	metrics     *metrics.DisputeMetrics
	router      chi.Router
	nowFn       func() time.Time
}

func NewServer(auth *Authenticator, engine *dispute.Engine, coordinator *dispute.AppealCoordinator, client ledger.Client, watcher *EventWatcher, store *SQLiteStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:      engine,
		coordinator: coordinator,
		client:      client,
		watcher:     watcher,
		store:       store,
		logger:      logger,
		metrics:     metrics.Dispute(),
		nowFn:       time.Now,
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1/disputes", func(sr chi.Router) {
		if auth != nil {
			sr.Use(auth.Middleware)
		}
		sr.Get("/{id}", s.handleGetView)
		sr.Get("/{id}/milestones", s.handleGetMilestones)
		sr.Post("/{id}/actions", s.handleAction)
		sr.Post("/{id}/appeal", s.handleAppeal)
		sr.Get("/intents/{ref}", s.handleGetIntent)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeError maps domain failures onto HTTP statuses: typed rejections are
// 409 with a stable code, ledger rejections 422, stale views and quarantined
// records 409, unknown disputes 404, everything else 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var rejection *dispute.RejectionError
	if errors.As(err, &rejection) {
		s.metrics.ObserveRejection(string(rejection.Code))
		writeJSON(w, http.StatusConflict, errorBody{Error: rejection.Error(), Code: string(rejection.Code)})
		return
	}
	var ledgerRejected *dispute.LedgerRejectedError
	if errors.As(err, &ledgerRejected) {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: ledgerRejected.Error(), Code: "ledger_rejected"})
		return
	}
	if errors.Is(err, dispute.ErrStaleView) {
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "stale_view"})
		return
	}
	if errors.Is(err, dispute.ErrQuarantined) {
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "quarantined"})
		return
	}
	if errors.Is(err, dispute.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Code: "not_found"})
		return
	}
	s.logger.Error("request failed", "err", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
}

func disputeIDParam(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
}

func viewerParam(r *http.Request) [20]byte {
	raw := strings.TrimSpace(r.URL.Query().Get("viewer"))
	if common.IsHexAddress(raw) {
		return common.HexToAddress(raw)
	}
	return [20]byte{}
}

type panelRiskPayload struct {
	Arbiter string `json:"arbiter"`
	Level   string `json:"level,omitempty"`
	Known   bool   `json:"known"`
}

type settlementPayload struct {
	Outcome string `json:"outcome"`
	Buyer   string `json:"buyerAmount"`
	Seller  string `json:"sellerAmount"`
}

type viewPayload struct {
	ID                uint64             `json:"id"`
	Buyer             string             `json:"buyer"`
	Seller            string             `json:"seller"`
	Token             string             `json:"token"`
	Amount            string             `json:"amount"`
	Status            string             `json:"status"`
	Ruling            string             `json:"ruling"`
	BuyerEvidenceURI  string             `json:"buyerEvidenceUri"`
	SellerEvidenceURI string             `json:"sellerEvidenceUri,omitempty"`
	Tally             dispute.Tally      `json:"tally"`
	Phase             string             `json:"phase"`
	WindowOpen        bool               `json:"windowOpen"`
	RemainingSecs     int64              `json:"remainingSecs"`
	Eligibility       disputeEligibility `json:"eligibility"`
	PanelRisk         []panelRiskPayload `json:"panelRisk"`
	Settlement        *settlementPayload `json:"settlement,omitempty"`
	AppealDisputeID   uint64             `json:"appealDisputeId,omitempty"`
	IsAppealDispute   bool               `json:"isAppeal,omitempty"`
	Stale             bool               `json:"stale"`
}

type disputeEligibility struct {
	CanSubmitCounterEvidence bool `json:"canSubmitCounterEvidence"`
	CanVote                  bool `json:"canVote"`
	CanAppeal                bool `json:"canAppeal"`
	CanFinalize              bool `json:"canFinalize"`
	IsLosingParty            bool `json:"isLosingParty"`
}

func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	id, err := disputeIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid dispute id"})
		return
	}
	view, err := s.engine.GetView(id, viewerParam(r), s.nowFn().Unix())
	if err != nil {
		s.writeError(w, err)
		return
	}
	d := view.Dispute
	payload := viewPayload{
		ID:                d.ID,
		Buyer:             common.Address(d.Buyer).Hex(),
		Seller:            common.Address(d.Seller).Hex(),
		Token:             d.Token,
		Status:            d.Status.String(),
		Ruling:            d.Ruling.String(),
		BuyerEvidenceURI:  d.BuyerEvidenceURI,
		SellerEvidenceURI: d.SellerEvidenceURI,
		Tally:             view.Tally,
		Phase:             view.Window.Phase.String(),
		WindowOpen:        view.Window.Open,
		RemainingSecs:     view.Window.Remaining,
		Eligibility: disputeEligibility{
			CanSubmitCounterEvidence: view.Eligibility.CanSubmitCounterEvidence,
			CanVote:                  view.Eligibility.CanVote,
			CanAppeal:                view.Eligibility.CanAppeal,
			CanFinalize:              view.Eligibility.CanFinalize,
			IsLosingParty:            view.Eligibility.IsLosingParty,
		},
		AppealDisputeID: d.AppealDisputeID,
		IsAppealDispute: d.IsAppealDispute,
		Stale:           view.Stale,
	}
	if d.Amount != nil {
		payload.Amount = d.Amount.String()
	}
	for _, risk := range view.PanelRisk {
		entry := panelRiskPayload{Arbiter: common.Address(risk.Arbiter).Hex(), Known: risk.Known}
		if risk.Known {
			entry.Level = risk.Level.String()
		}
		payload.PanelRisk = append(payload.PanelRisk, entry)
	}
	if d.Status == dispute.StatusResolved || d.Status == dispute.StatusFinalized {
		outcome := view.Tally.Concluded()
		buyerAmt, sellerAmt := dispute.SplitAward(d.Amount, outcome)
		payload.Settlement = &settlementPayload{
			Outcome: outcome.String(),
			Buyer:   buyerAmt.String(),
			Seller:  sellerAmt.String(),
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

type milestonesPayload struct {
	DisputeID uint64   `json:"disputeId"`
	Released  []bool   `json:"released"`
	Unlocked  string   `json:"unlocked"`
	Pending   string   `json:"pending"`
	SlotBps   []uint32 `json:"slotBps"`
}

func (s *Server) handleGetMilestones(w http.ResponseWriter, r *http.Request) {
	id, err := disputeIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid dispute id"})
		return
	}
	d, err := s.engine.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	released, err := s.client.PendingMilestones(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	schedule := dispute.DefaultMilestoneSchedule()
	payload := milestonesPayload{
		DisputeID: id,
		Released:  released[:],
		Unlocked:  schedule.Unlocked(d.Amount, released).String(),
		Pending:   schedule.Pending(d.Amount, released).String(),
		SlotBps:   schedule.SlotBps[:],
	}
	writeJSON(w, http.StatusOK, payload)
}

type actionRequest struct {
	Kind    string            `json:"kind"`
	Actor   string            `json:"actor"`
	Payload map[string]string `json:"payload,omitempty"`
}

type actionResponse struct {
	Reference string `json:"ref"`
	Status    string `json:"status"`
	TxHash    string `json:"txHash,omitempty"`
	Sequence  int64  `json:"sequence,omitempty"`
}

var actionIntentKinds = map[dispute.ActionKind]ledger.IntentKind{
	dispute.ActionSubmitCounterEvidence: ledger.IntentSubmitCounterEvidence,
	dispute.ActionCastVote:              ledger.IntentCastVote,
	dispute.ActionExecuteRuling:         ledger.IntentExecuteRuling,
	dispute.ActionFinalizeRuling:        ledger.IntentFinalizeRuling,
}

// handleAction validates the action locally, submits the intent and waits a
// bounded time for the confirmation to land on the event stream. A timeout is
// not a failure: the intent stays submitted and the caller can poll it.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	id, err := disputeIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid dispute id"})
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	kind := dispute.ActionKind(strings.TrimSpace(req.Kind))
	if !kind.Valid() || kind == dispute.ActionFileAppeal {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unsupported action kind"})
		return
	}
	if !common.IsHexAddress(strings.TrimSpace(req.Actor)) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "actor must be a hex address"})
		return
	}
	actor := common.HexToAddress(strings.TrimSpace(req.Actor))

	if err := s.engine.ValidateAction(id, actor, kind); err != nil {
		s.writeError(w, err)
		return
	}

	intentKind := actionIntentKinds[kind]
	intent := ledger.NewIntent(intentKind, id, actor)
	for k, v := range req.Payload {
		intent.Payload[k] = v
	}

	submittedAt := s.nowFn()
	conf := s.watcher.Register(intent.Reference)
	receipt, err := s.client.SubmitIntent(r.Context(), intent)
	if err != nil {
		s.watcher.Drop(intent.Reference)
		s.writeError(w, err)
		return
	}
	if err := s.store.RecordIntentSubmitted(r.Context(), intent.Reference, string(intentKind), id, common.Address(actor).Hex(), receipt.TxHash, submittedAt); err != nil {
		s.logger.Error("record intent failed", "ref", intent.Reference, "err", err)
	}

	waitCtx, cancel := context.WithTimeout(r.Context(), confirmationWait)
	defer cancel()
	evt, err := conf.Wait(waitCtx)
	if err != nil {
		s.watcher.Drop(intent.Reference)
		writeJSON(w, http.StatusAccepted, actionResponse{
			Reference: intent.Reference,
			Status:    intentStatusSubmitted,
			TxHash:    receipt.TxHash,
		})
		return
	}
	s.metrics.ObserveIntentLatency(s.nowFn().Sub(submittedAt).Seconds())
	if markErr := s.store.MarkIntentConfirmed(r.Context(), intent.Reference, s.nowFn()); markErr != nil {
		s.logger.Error("mark intent confirmed failed", "ref", intent.Reference, "err", markErr)
	}
	writeJSON(w, http.StatusOK, actionResponse{
		Reference: intent.Reference,
		Status:    intentStatusConfirmed,
		TxHash:    receipt.TxHash,
		Sequence:  evt.Sequence,
	})
}

type appealRequest struct {
	Filer string `json:"filer"`
}

type appealResponse struct {
	AppealDisputeID uint64 `json:"appealDisputeId"`
	Status          string `json:"status"`
	Bond            string `json:"bond"`
}

func (s *Server) handleAppeal(w http.ResponseWriter, r *http.Request) {
	id, err := disputeIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid dispute id"})
		return
	}
	var req appealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if !common.IsHexAddress(strings.TrimSpace(req.Filer)) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "filer must be a hex address"})
		return
	}
	filer := common.HexToAddress(strings.TrimSpace(req.Filer))

	forked, err := s.coordinator.FileAppeal(r.Context(), id, filer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appealResponse{
		AppealDisputeID: forked.ID,
		Status:          forked.Status.String(),
		Bond:            s.coordinator.Bond().String(),
	})
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(chi.URLParam(r, "ref"))
	intent, err := s.store.IntentByReference(r.Context(), ref)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "intent not found", Code: "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ref":       intent.Reference,
		"kind":      intent.Kind,
		"disputeId": intent.DisputeID,
		"actor":     intent.Actor,
		"status":    intent.Status,
		"txHash":    intent.TxHash,
		"detail":    intent.Detail,
	})
}
