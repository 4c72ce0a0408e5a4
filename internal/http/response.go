package http

import (
	"time"

	"github.com/google/uuid"

	"github.com/taskhub/escrow/internal/model"
	"github.com/taskhub/escrow/internal/money"
)

// Wire DTOs. Domain models stay tag-free; everything that crosses the API
// boundary is mapped through these.

type projectResponse struct {
	ID              uuid.UUID `json:"id"`
	OwnerID         uuid.UUID `json:"owner_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	AllowsProposals bool      `json:"allows_proposals"`
	MaxProposals    int       `json:"max_proposals"`
	ProposalCount   int       `json:"proposal_count"`
	ViewCount       int64     `json:"view_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toProjectResponse(p *model.Project) projectResponse {
	return projectResponse{
		ID:              p.ID,
		OwnerID:         p.OwnerID,
		Title:           p.Title,
		Description:     p.Description,
		Currency:        p.Currency,
		Status:          string(p.Status),
		AllowsProposals: p.AllowsProposals,
		MaxProposals:    p.MaxProposals,
		ProposalCount:   p.ProposalCount,
		ViewCount:       p.ViewCount,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

type proposalResponse struct {
	ID                    uuid.UUID   `json:"id"`
	ProjectID             uuid.UUID   `json:"project_id"`
	BidderID              uuid.UUID   `json:"bidder_id"`
	BidAmount             money.Money `json:"bid_amount"`
	CoverLetter           string      `json:"cover_letter,omitempty"`
	EstimatedDeliveryDays int         `json:"estimated_delivery_days,omitempty"`
	Status                string      `json:"status"`
	SubmittedAt           time.Time   `json:"submitted_at"`
}

func toProposalResponse(p *model.Proposal) proposalResponse {
	return proposalResponse{
		ID:                    p.ID,
		ProjectID:             p.ProjectID,
		BidderID:              p.BidderID,
		BidAmount:             p.BidAmount,
		CoverLetter:           p.CoverLetter,
		EstimatedDeliveryDays: p.EstimatedDeliveryDays,
		Status:                string(p.Status),
		SubmittedAt:           p.SubmittedAt,
	}
}

type contractResponse struct {
	ID                     uuid.UUID   `json:"id"`
	ProjectID              uuid.UUID   `json:"project_id"`
	BuyerID                uuid.UUID   `json:"buyer_id"`
	SellerID               uuid.UUID   `json:"seller_id"`
	OriginatingProposalID  *uuid.UUID  `json:"originating_proposal_id,omitempty"`
	Title                  string      `json:"title"`
	TotalAmount            money.Money `json:"total_amount"`
	BilledAmount           money.Money `json:"billed_amount"`
	PaidAmount             money.Money `json:"paid_amount"`
	Status                 string      `json:"status"`
	AllowOutOfOrderFunding bool        `json:"allow_out_of_order_funding"`
	SignedByBuyerAt        *time.Time  `json:"signed_by_buyer_at,omitempty"`
	SignedBySellerAt       *time.Time  `json:"signed_by_seller_at,omitempty"`
	CompletedAt            *time.Time  `json:"completed_at,omitempty"`
	CreatedAt              time.Time   `json:"created_at"`
	UpdatedAt              time.Time   `json:"updated_at"`
}

func toContractResponse(c *model.Contract) contractResponse {
	return contractResponse{
		ID:                     c.ID,
		ProjectID:              c.ProjectID,
		BuyerID:                c.BuyerID,
		SellerID:               c.SellerID,
		OriginatingProposalID:  c.OriginatingProposalID,
		Title:                  c.Title,
		TotalAmount:            c.TotalAmount,
		BilledAmount:           c.BilledAmount,
		PaidAmount:             c.PaidAmount,
		Status:                 string(c.Status),
		AllowOutOfOrderFunding: c.AllowOutOfOrderFunding,
		SignedByBuyerAt:        c.SignedByBuyerAt,
		SignedBySellerAt:       c.SignedBySellerAt,
		CompletedAt:            c.CompletedAt,
		CreatedAt:              c.CreatedAt,
		UpdatedAt:              c.UpdatedAt,
	}
}

type milestoneResponse struct {
	ID              uuid.UUID   `json:"id"`
	ContractID      uuid.UUID   `json:"contract_id"`
	Title           string      `json:"title"`
	OrderIndex      int         `json:"order_index"`
	Amount          money.Money `json:"amount"`
	Status          string      `json:"status"`
	DeliverableURL  string      `json:"deliverable_url,omitempty"`
	SubmissionNotes string      `json:"submission_notes,omitempty"`
	FundedAt        *time.Time  `json:"funded_at,omitempty"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	SubmittedAt     *time.Time  `json:"submitted_at,omitempty"`
	ApprovedAt      *time.Time  `json:"approved_at,omitempty"`
	ReleasedAt      *time.Time  `json:"released_at,omitempty"`
}

func toMilestoneResponse(m *model.Milestone) milestoneResponse {
	return milestoneResponse{
		ID:              m.ID,
		ContractID:      m.ContractID,
		Title:           m.Title,
		OrderIndex:      m.OrderIndex,
		Amount:          m.Amount,
		Status:          string(m.Status),
		DeliverableURL:  m.DeliverableURL,
		SubmissionNotes: m.SubmissionNotes,
		FundedAt:        m.FundedAt,
		StartedAt:       m.StartedAt,
		SubmittedAt:     m.SubmittedAt,
		ApprovedAt:      m.ApprovedAt,
		ReleasedAt:      m.ReleasedAt,
	}
}

type transactionResponse struct {
	ID                uuid.UUID   `json:"id"`
	ContractID        *uuid.UUID  `json:"contract_id,omitempty"`
	MilestoneID       *uuid.UUID  `json:"milestone_id,omitempty"`
	Type              string      `json:"type"`
	Amount            money.Money `json:"amount"`
	Status            string      `json:"status"`
	Provider          string      `json:"provider"`
	ProviderReference string      `json:"provider_reference,omitempty"`
	PlatformFee       money.Money `json:"platform_fee"`
	ProcessorFee      money.Money `json:"processor_fee"`
	NetAmount         money.Money `json:"net_amount"`
	ErrorCode         string      `json:"error_code,omitempty"`
	ErrorMessage      string      `json:"error_message,omitempty"`
	RetryCount        int         `json:"retry_count"`
	InitiatedAt       time.Time   `json:"initiated_at"`
	ProcessedAt       *time.Time  `json:"processed_at,omitempty"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
}

func toTransactionResponse(t *model.Transaction) transactionResponse {
	return transactionResponse{
		ID:                t.ID,
		ContractID:        t.ContractID,
		MilestoneID:       t.MilestoneID,
		Type:              string(t.Type),
		Amount:            t.Amount,
		Status:            string(t.Status),
		Provider:          t.Provider,
		ProviderReference: t.ProviderReference,
		PlatformFee:       t.PlatformFee,
		ProcessorFee:      t.ProcessorFee,
		NetAmount:         t.NetAmount,
		ErrorCode:         t.ErrorCode,
		ErrorMessage:      t.ErrorMessage,
		RetryCount:        t.RetryCount,
		InitiatedAt:       t.InitiatedAt,
		ProcessedAt:       t.ProcessedAt,
		CompletedAt:       t.CompletedAt,
	}
}
