package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/agentdelegation/agent/admission"
	"github.com/BaSui01/agentdelegation/agent/contract"
)

// =============================================================================
// Contract Negotiation Handler
// =============================================================================

// Proposer negotiates a pending contract with its delegatee.
type Proposer interface {
	Propose(ctx context.Context, c *contract.DelegationContract) (*admission.Decision, error)
}

// ContractHandler evaluates delegation contracts against admission control.
type ContractHandler struct {
	proposer Proposer
	logger   *zap.Logger
}

// EvaluationResponse carries the contract in its post-negotiation state and
// the admission decision.
type EvaluationResponse struct {
	Contract *contract.DelegationContract `json:"contract"`
	Decision *admission.Decision          `json:"decision"`
}

// NewContractHandler creates a contract handler.
func NewContractHandler(proposer Proposer, logger *zap.Logger) *ContractHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContractHandler{
		proposer: proposer,
		logger:   logger.With(zap.String("handler", "contract")),
	}
}

// Register mounts the contract routes on mux.
func (h *ContractHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/contracts/evaluate", h.HandleEvaluate)
}

// HandleEvaluate proposes a contract. A rejection is a normal outcome and is
// returned with status 200 and can_accept=false.
// @Summary Evaluate contract
// @Tags contract
// @Accept json
// @Produce json
// @Param request body contract.DelegationContract true "Contract"
// @Success 200 {object} Response{data=EvaluationResponse} "Admission decision"
// @Failure 400 {object} Response "Invalid contract"
// @Failure 409 {object} Response "Contract not pending"
// @Security ApiKeyAuth
// @Router /api/v1/contracts/evaluate [post]
func (h *ContractHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	data, ok := ReadBody(w, r, h.logger)
	if !ok {
		return
	}

	c, err := contract.Decode(data)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	decision, err := h.proposer.Propose(r.Context(), c)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	h.logger.Debug("contract evaluated",
		zap.String("contract_id", c.ContractID),
		zap.String("delegatee", c.DelegateeAgentID),
		zap.Bool("accepted", decision.CanAccept),
		zap.String("gate", string(decision.Gate)),
	)
	WriteSuccess(w, EvaluationResponse{Contract: c, Decision: decision})
}
