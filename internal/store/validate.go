package store

import (
	"fmt"

	"github.com/taskhub/escrow/internal/model"
)

// Status values are closed enums owned by the lifecycle package; anything
// else is rejected here, before a write, regardless of which backend is in
// use.

func ValidateProject(p *model.Project) error {
	if _, err := model.ParseProjectStatus(string(p.Status)); err != nil {
		return fmt.Errorf("project %s: %w", p.ID, err)
	}
	return nil
}

func ValidateProposal(p *model.Proposal) error {
	if _, err := model.ParseProposalStatus(string(p.Status)); err != nil {
		return fmt.Errorf("proposal %s: %w", p.ID, err)
	}
	return nil
}

func ValidateContract(c *model.Contract) error {
	if _, err := model.ParseContractStatus(string(c.Status)); err != nil {
		return fmt.Errorf("contract %s: %w", c.ID, err)
	}
	return nil
}

func ValidateMilestone(m *model.Milestone) error {
	if _, err := model.ParseMilestoneStatus(string(m.Status)); err != nil {
		return fmt.Errorf("milestone %s: %w", m.ID, err)
	}
	return nil
}

func ValidateTransaction(t *model.Transaction) error {
	if _, err := model.ParseTransactionType(string(t.Type)); err != nil {
		return fmt.Errorf("transaction %s: %w", t.ID, err)
	}
	if _, err := model.ParseTransactionStatus(string(t.Status)); err != nil {
		return fmt.Errorf("transaction %s: %w", t.ID, err)
	}
	return nil
}
