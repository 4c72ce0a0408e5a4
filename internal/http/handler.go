package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/taskhub/escrow/internal/counters"
	"github.com/taskhub/escrow/internal/escrow"
	"github.com/taskhub/escrow/internal/excel"
	"github.com/taskhub/escrow/internal/http/middleware"
	"github.com/taskhub/escrow/internal/lifecycle"
	"github.com/taskhub/escrow/internal/model"
	"github.com/taskhub/escrow/internal/money"
	"github.com/taskhub/escrow/internal/pdf"
	"github.com/taskhub/escrow/internal/statement"
	"github.com/taskhub/escrow/internal/store"
)

type Handler struct {
	engine     *lifecycle.Engine
	escrow     *escrow.Orchestrator
	store      store.Store
	statements *statement.Service
	pdfGen     *pdf.Generator
	excelGen   *excel.Generator
	views      *counters.Counter
	log        zerolog.Logger
}

func NewHandler(
	engine *lifecycle.Engine,
	orchestrator *escrow.Orchestrator,
	st store.Store,
	statements *statement.Service,
	pdfGen *pdf.Generator,
	excelGen *excel.Generator,
	views *counters.Counter,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		engine:     engine,
		escrow:     orchestrator,
		store:      st,
		statements: statements,
		pdfGen:     pdfGen,
		excelGen:   excelGen,
		views:      views,
		log:        log,
	}
}

func (h *Handler) Register(router *gin.Engine, authMiddleware gin.HandlerFunc) {
	protected := router.Group("/")
	protected.Use(authMiddleware)

	protected.POST("/projects", h.createProject)
	protected.GET("/projects/:id", h.getProject)
	protected.POST("/projects/:id/open", h.projectAction(h.engine.OpenProject))
	protected.POST("/projects/:id/complete", h.projectAction(h.engine.CompleteProject))
	protected.POST("/projects/:id/cancel", h.projectAction(h.engine.CancelProject))
	protected.POST("/projects/:id/close", h.projectAction(h.engine.CloseProject))
	protected.POST("/projects/:id/proposals", h.submitProposal)
	protected.GET("/projects/:id/proposals", h.listProposals)

	protected.POST("/proposals/:id/accept", h.acceptProposal)
	protected.POST("/proposals/:id/reject", h.proposalAction(h.engine.RejectProposal))
	protected.POST("/proposals/:id/withdraw", h.proposalAction(h.engine.WithdrawProposal))

	protected.POST("/contracts", h.createContract)
	protected.GET("/contracts/:id", h.getContract)
	protected.POST("/contracts/:id/sign", h.contractAction(h.engine.SignContract))
	protected.POST("/contracts/:id/pause", h.contractAction(h.engine.PauseContract))
	protected.POST("/contracts/:id/resume", h.contractAction(h.engine.ResumeContract))
	protected.POST("/contracts/:id/dispute", h.contractAction(h.engine.DisputeContract))
	protected.POST("/contracts/:id/resolve", h.contractAction(h.engine.ResolveDispute))
	protected.POST("/contracts/:id/complete", h.contractAction(h.engine.CompleteContract))
	protected.POST("/contracts/:id/cancel", h.contractAction(h.engine.CancelContract))
	protected.POST("/contracts/:id/refund", h.refundContract)
	protected.POST("/contracts/:id/milestones", h.createMilestones)
	protected.GET("/contracts/:id/milestones", h.listMilestones)
	protected.GET("/contracts/:id/transactions", h.listTransactions)
	protected.POST("/contracts/:id/statement", h.exportStatement)
	protected.POST("/contracts/:id/statement/pdf", h.exportStatementPDF)

	protected.POST("/milestones/:id/fund", h.fundMilestone)
	protected.POST("/milestones/:id/start", h.milestoneAction(h.engine.StartMilestone))
	protected.POST("/milestones/:id/submit", h.submitMilestone)
	protected.POST("/milestones/:id/approve", h.milestoneAction(h.engine.ApproveMilestone))
	protected.POST("/milestones/:id/dispute", h.milestoneAction(h.engine.DisputeMilestone))
	protected.POST("/milestones/:id/release", h.releaseMilestone)

	protected.POST("/transactions/:id/abandon", h.abandonTransaction)

	// Provider callbacks authenticate out of band, not with user tokens.
	router.POST("/payments/callback", h.paymentCallback)
}

// --- projects ---

type createProjectRequest struct {
	Title        string `json:"title" binding:"required"`
	Description  string `json:"description"`
	Currency     string `json:"currency" binding:"required"`
	MaxProposals int    `json:"max_proposals"`
}

func (h *Handler) createProject(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	project, err := h.engine.CreateProject(c.Request.Context(), lifecycle.CreateProjectInput{
		OwnerID:      principal.UserID,
		Title:        req.Title,
		Description:  req.Description,
		Currency:     req.Currency,
		MaxProposals: req.MaxProposals,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProjectResponse(project))
}

func (h *Handler) getProject(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	project, err := h.store.GetProject(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if h.views != nil {
		if err := h.views.BumpView(c.Request.Context(), id); err != nil {
			h.log.Warn().Err(err).Msg("view bump failed")
		} else if pending, err := h.views.PendingViews(c.Request.Context(), id); err == nil {
			project.ViewCount += pending
		}
	}
	c.JSON(http.StatusOK, toProjectResponse(project))
}

// transitionHandler wraps the engine's actor-driven transitions, which all
// share the (id, actor) -> entity shape.
func transitionHandler[T any, R any](
	h *Handler,
	fn func(context.Context, uuid.UUID, uuid.UUID) (*T, error),
	toResponse func(*T) R,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.MustPrincipal(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
			return
		}
		id, err := parseID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		entity, err := fn(c.Request.Context(), id, principal.UserID)
		if err != nil {
			h.handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, toResponse(entity))
	}
}

func (h *Handler) projectAction(fn func(context.Context, uuid.UUID, uuid.UUID) (*model.Project, error)) gin.HandlerFunc {
	return transitionHandler(h, fn, toProjectResponse)
}

func (h *Handler) proposalAction(fn func(context.Context, uuid.UUID, uuid.UUID) (*model.Proposal, error)) gin.HandlerFunc {
	return transitionHandler(h, fn, toProposalResponse)
}

func (h *Handler) contractAction(fn func(context.Context, uuid.UUID, uuid.UUID) (*model.Contract, error)) gin.HandlerFunc {
	return transitionHandler(h, fn, toContractResponse)
}

func (h *Handler) milestoneAction(fn func(context.Context, uuid.UUID, uuid.UUID) (*model.Milestone, error)) gin.HandlerFunc {
	return transitionHandler(h, fn, toMilestoneResponse)
}

// --- proposals ---

type submitProposalRequest struct {
	BidAmount             string `json:"bid_amount" binding:"required"`
	Currency              string `json:"currency" binding:"required"`
	CoverLetter           string `json:"cover_letter"`
	EstimatedDeliveryDays int    `json:"estimated_delivery_days"`
}

func (h *Handler) submitProposal(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	projectID, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req submitProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	bid, err := money.Parse(req.BidAmount, req.Currency)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	proposal, err := h.engine.SubmitProposal(c.Request.Context(), lifecycle.SubmitProposalInput{
		ProjectID:             projectID,
		BidderID:              principal.UserID,
		BidAmount:             bid,
		CoverLetter:           req.CoverLetter,
		EstimatedDeliveryDays: req.EstimatedDeliveryDays,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProposalResponse(proposal))
}

func (h *Handler) listProposals(c *gin.Context) {
	projectID, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	proposals, err := h.store.ListProposalsByProject(c.Request.Context(), projectID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	out := make([]proposalResponse, len(proposals))
	for i := range proposals {
		out[i] = toProposalResponse(&proposals[i])
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) acceptProposal(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	proposalID, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	contract, err := h.engine.AcceptProposal(c.Request.Context(), proposalID, principal.UserID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toContractResponse(contract))
}

// --- contracts ---

type createContractRequest struct {
	ProjectID              string `json:"project_id" binding:"required"`
	SellerID               string `json:"seller_id" binding:"required"`
	Title                  string `json:"title" binding:"required"`
	TotalAmount            string `json:"total_amount" binding:"required"`
	Currency               string `json:"currency" binding:"required"`
	AllowOutOfOrderFunding bool   `json:"allow_out_of_order_funding"`
}

func (h *Handler) createContract(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	var req createContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	projectID, err := uuid.Parse(strings.TrimSpace(req.ProjectID))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project_id"})
		return
	}
	sellerID, err := uuid.Parse(strings.TrimSpace(req.SellerID))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid seller_id"})
		return
	}
	total, err := money.Parse(req.TotalAmount, req.Currency)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	contract, err := h.engine.CreateContract(c.Request.Context(), lifecycle.CreateContractInput{
		ProjectID:              projectID,
		BuyerID:                principal.UserID,
		SellerID:               sellerID,
		Title:                  req.Title,
		TotalAmount:            total,
		AllowOutOfOrderFunding: req.AllowOutOfOrderFunding,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toContractResponse(contract))
}

func (h *Handler) getContract(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	contract, err := h.store.GetContract(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toContractResponse(contract))
}

type refundRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *Handler) refundContract(c *gin.Context) {
	if _, ok := middleware.MustPrincipal(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	contractID, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.escrow.Refund(c.Request.Context(), contractID, req.Reason); err != nil {
		h.handleError(c, err)
		return
	}
	contract, err := h.store.GetContract(c.Request.Context(), contractID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toContractResponse(contract))
}

// --- milestones ---

type milestoneItem struct {
	Title      string `json:"title" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
	OrderIndex int    `json:"order_index" binding:"required"`
}

type createMilestonesRequest struct {
	Currency   string          `json:"currency" binding:"required"`
	Milestones []milestoneItem `json:"milestones" binding:"required,dive"`
}

func (h *Handler) createMilestones(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	contractID, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req createMilestonesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inputs := make([]lifecycle.MilestoneInput, 0, len(req.Milestones))
	for _, item := range req.Milestones {
		amount, err := money.Parse(item.Amount, req.Currency)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		inputs = append(inputs, lifecycle.MilestoneInput{
			Title:      item.Title,
			Amount:     amount,
			OrderIndex: item.OrderIndex,
		})
	}
	milestones, err := h.engine.CreateMilestones(c.Request.Context(), contractID, principal.UserID, inputs)
	if err != nil {
		h.handleError(c, err)
		return
	}
	out := make([]milestoneResponse, len(milestones))
	for i := range milestones {
		out[i] = toMilestoneResponse(&milestones[i])
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) listMilestones(c *gin.Context) {
	contractID, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	milestones, err := h.store.ListMilestonesByContract(c.Request.Context(), contractID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	out := make([]milestoneResponse, len(milestones))
	for i := range milestones {
		out[i] = toMilestoneResponse(&milestones[i])
	}
	c.JSON(http.StatusOK, out)
}

type submitMilestoneRequest struct {
	DeliverableURL string `json:"deliverable_url"`
	Notes          string `json:"notes"`
}

func (h *Handler) submitMilestone(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	milestoneID, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req submitMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	milestone, err := h.engine.SubmitMilestone(c.Request.Context(), milestoneID, principal.UserID, req.DeliverableURL, req.Notes)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toMilestoneResponse(milestone))
}

// --- escrow ---

func (h *Handler) fundMilestone(c *gin.Context) {
	if _, ok := middleware.MustPrincipal(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	milestoneID, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	txn, err := h.escrow.Fund(c.Request.Context(), milestoneID, c.GetHeader("Idempotency-Key"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransactionResponse(txn))
}

func (h *Handler) releaseMilestone(c *gin.Context) {
	if _, ok := middleware.MustPrincipal(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	milestoneID, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	txn, err := h.escrow.Release(c.Request.Context(), milestoneID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransactionResponse(txn))
}

func (h *Handler) listTransactions(c *gin.Context) {
	contractID, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	transactions, err := h.store.ListTransactionsByContract(c.Request.Context(), contractID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	out := make([]transactionResponse, len(transactions))
	for i := range transactions {
		out[i] = toTransactionResponse(&transactions[i])
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) abandonTransaction(c *gin.Context) {
	if _, ok := middleware.MustPrincipal(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	transactionID, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.escrow.Abandon(c.Request.Context(), transactionID); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type paymentCallbackRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	Status        string `json:"status" binding:"required"`
	ProviderRef   string `json:"provider_ref"`
	Code          string `json:"code"`
	Message       string `json:"message"`
}

// paymentCallback applies a provider-reported outcome. Providers redeliver
// callbacks; Reconcile tolerates that.
func (h *Handler) paymentCallback(c *gin.Context) {
	var req paymentCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	transactionID, err := uuid.Parse(strings.TrimSpace(req.TransactionID))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction_id"})
		return
	}
	outcome := escrow.Outcome{
		Status:      escrow.OutcomeStatus(req.Status),
		ProviderRef: req.ProviderRef,
		Code:        req.Code,
		Message:     req.Message,
	}
	if err := h.escrow.Reconcile(c.Request.Context(), transactionID, outcome); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- statements ---

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *Handler) exportStatement(c *gin.Context) {
	result, ok := h.buildStatement(c)
	if !ok {
		return
	}
	content, err := h.excelGen.Generate(*result)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=\""+statement.FileName(result, "xlsx")+"\"")
	c.Data(http.StatusOK, xlsxContentType, content)
}

func (h *Handler) exportStatementPDF(c *gin.Context) {
	result, ok := h.buildStatement(c)
	if !ok {
		return
	}
	content, err := h.pdfGen.Generate(*result)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=\""+statement.FileName(result, "pdf")+"\"")
	c.Data(http.StatusOK, "application/pdf", content)
}

func (h *Handler) buildStatement(c *gin.Context) (*model.EscrowStatement, bool) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return nil, false
	}
	contractID, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return nil, false
	}
	result, err := h.statements.Build(c.Request.Context(), contractID, principal.UserID)
	if err != nil {
		h.handleError(c, err)
		return nil, false
	}
	return result, true
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrValidation),
		errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrCurrencyMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, escrow.ErrPaymentFailed):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrOutOfOrderFunding),
		errors.Is(err, lifecycle.ErrOverpayment),
		errors.Is(err, store.ErrStaleWrite),
		errors.Is(err, store.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.log.Error().Err(err).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseID(c *gin.Context) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(c.Param("id")))
}
