package lifecycle

import (
	"fmt"

	"github.com/taskhub/escrow/internal/model"
)

// The transition tables below are the single source of truth for legal state
// changes. No other package constructs new status values.

var projectTransitions = map[model.ProjectStatus][]model.ProjectStatus{
	model.ProjectStatusDraft:      {model.ProjectStatusOpen, model.ProjectStatusCancelled},
	model.ProjectStatusOpen:       {model.ProjectStatusInProgress, model.ProjectStatusCancelled},
	model.ProjectStatusInProgress: {model.ProjectStatusCompleted, model.ProjectStatusCancelled},
	model.ProjectStatusCompleted:  {model.ProjectStatusClosed},
	model.ProjectStatusCancelled:  {model.ProjectStatusClosed},
}

var proposalTransitions = map[model.ProposalStatus][]model.ProposalStatus{
	model.ProposalStatusDraft: {model.ProposalStatusPending, model.ProposalStatusWithdrawn},
	model.ProposalStatusPending: {
		model.ProposalStatusAccepted,
		model.ProposalStatusRejected,
		model.ProposalStatusWithdrawn,
	},
}

var contractTransitions = map[model.ContractStatus][]model.ContractStatus{
	model.ContractStatusDraft: {model.ContractStatusActive, model.ContractStatusCancelled},
	model.ContractStatusActive: {
		model.ContractStatusPaused,
		model.ContractStatusCompleted,
		model.ContractStatusCancelled,
		model.ContractStatusDisputed,
	},
	model.ContractStatusPaused: {
		model.ContractStatusActive,
		model.ContractStatusCancelled,
		model.ContractStatusDisputed,
	},
	// Disputed is a recoverable side-state, not a terminal one.
	model.ContractStatusDisputed: {
		model.ContractStatusActive,
		model.ContractStatusCancelled,
	},
}

var milestoneTransitions = map[model.MilestoneStatus][]model.MilestoneStatus{
	model.MilestoneStatusPending:    {model.MilestoneStatusFunded},
	model.MilestoneStatusFunded:     {model.MilestoneStatusInProgress},
	model.MilestoneStatusInProgress: {model.MilestoneStatusSubmitted},
	model.MilestoneStatusSubmitted: {
		model.MilestoneStatusApproved,
		model.MilestoneStatusDisputed,
	},
	model.MilestoneStatusApproved: {model.MilestoneStatusReleased},
}

var transactionTransitions = map[model.TransactionStatus][]model.TransactionStatus{
	model.TransactionStatusPending: {
		model.TransactionStatusProcessing,
		model.TransactionStatusCancelled,
	},
	model.TransactionStatusProcessing: {
		model.TransactionStatusSuccess,
		model.TransactionStatusFailed,
		model.TransactionStatusRefunded,
	},
	// Retrying a failed intent re-opens it; bounded by the retry policy.
	model.TransactionStatusFailed: {model.TransactionStatusPending},
}

func transitionErr(kind string, from, to any) error {
	return fmt.Errorf("%w: %s %v -> %v", ErrInvalidTransition, kind, from, to)
}

func checkProjectTransition(from, to model.ProjectStatus) error {
	for _, allowed := range projectTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return transitionErr("project", from, to)
}

func checkProposalTransition(from, to model.ProposalStatus) error {
	for _, allowed := range proposalTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return transitionErr("proposal", from, to)
}

func checkContractTransition(from, to model.ContractStatus) error {
	for _, allowed := range contractTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return transitionErr("contract", from, to)
}

func checkMilestoneTransition(from, to model.MilestoneStatus) error {
	for _, allowed := range milestoneTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return transitionErr("milestone", from, to)
}

// CheckTransactionTransition is exported for the escrow orchestrator, which
// owns transaction writes but not transition legality.
func CheckTransactionTransition(from, to model.TransactionStatus) error {
	for _, allowed := range transactionTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return transitionErr("transaction", from, to)
}
