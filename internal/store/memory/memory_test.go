package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhub/escrow/internal/model"
	"github.com/taskhub/escrow/internal/money"
	"github.com/taskhub/escrow/internal/store"
	"github.com/taskhub/escrow/internal/store/memory"
)

func usd(amount string) money.Money {
	m, err := money.Parse(amount, "USD")
	if err != nil {
		panic(err)
	}
	return m
}

func seedProject(t *testing.T, st *memory.Store) *model.Project {
	t.Helper()
	project := &model.Project{
		ID:              uuid.New(),
		OwnerID:         uuid.New(),
		Title:           "seeded",
		Currency:        "USD",
		Status:          model.ProjectStatusOpen,
		AllowsProposals: true,
		MaxProposals:    10,
	}
	require.NoError(t, st.CreateProject(context.Background(), project))
	return project
}

func TestCreateStampsVersionAndTimestamps(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	st := memory.New().WithClock(func() time.Time { return fixed })

	project := seedProject(t, st)
	assert.EqualValues(t, 1, project.Version)
	assert.Equal(t, fixed, project.CreatedAt)
	assert.Equal(t, fixed, project.UpdatedAt)
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	st := memory.New()
	_, err := st.GetProject(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetTransactionByKey(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStaleWriteDetection(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	project := seedProject(t, st)

	first, err := st.GetProject(ctx, project.ID)
	require.NoError(t, err)
	second, err := st.GetProject(ctx, project.ID)
	require.NoError(t, err)

	first.Title = "writer one"
	require.NoError(t, st.UpdateProject(ctx, first))
	assert.EqualValues(t, 2, first.Version)

	second.Title = "writer two"
	err = st.UpdateProject(ctx, second)
	assert.ErrorIs(t, err, store.ErrStaleWrite, "lost update must be rejected")

	fresh, err := st.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "writer one", fresh.Title)
}

func TestAtomicallyRollsBackOnError(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	project := seedProject(t, st)

	boom := errors.New("boom")
	err := st.Atomically(ctx, func(q store.Queries) error {
		p, err := q.GetProject(ctx, project.ID)
		if err != nil {
			return err
		}
		p.Title = "halfway"
		if err := q.UpdateProject(ctx, p); err != nil {
			return err
		}
		if err := q.CreateProposal(ctx, &model.Proposal{
			ID:        uuid.New(),
			ProjectID: project.ID,
			BidderID:  uuid.New(),
			BidAmount: usd("10.00"),
			Status:    model.ProposalStatusPending,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	fresh, err := st.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "seeded", fresh.Title, "partial write discarded")
	assert.EqualValues(t, 1, fresh.Version)

	proposals, err := st.ListProposalsByProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Empty(t, proposals)
}

func TestAtomicallyCommitsAllOrNothing(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	project := seedProject(t, st)

	err := st.Atomically(ctx, func(q store.Queries) error {
		p, err := q.GetProject(ctx, project.ID)
		if err != nil {
			return err
		}
		p.ProposalCount = 1
		if err := q.UpdateProject(ctx, p); err != nil {
			return err
		}
		return q.CreateProposal(ctx, &model.Proposal{
			ID:        uuid.New(),
			ProjectID: project.ID,
			BidderID:  uuid.New(),
			BidAmount: usd("10.00"),
			Status:    model.ProposalStatusPending,
		})
	})
	require.NoError(t, err)

	fresh, err := st.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.ProposalCount)
	proposals, err := st.ListProposalsByProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Len(t, proposals, 1)
}

func TestOneLiveProposalPerBidder(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	project := seedProject(t, st)
	bidder := uuid.New()

	first := &model.Proposal{
		ID:        uuid.New(),
		ProjectID: project.ID,
		BidderID:  bidder,
		BidAmount: usd("10.00"),
		Status:    model.ProposalStatusPending,
	}
	require.NoError(t, st.CreateProposal(ctx, first))

	err := st.CreateProposal(ctx, &model.Proposal{
		ID:        uuid.New(),
		ProjectID: project.ID,
		BidderID:  bidder,
		BidAmount: usd("12.00"),
		Status:    model.ProposalStatusPending,
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	// A withdrawn proposal no longer occupies the slot.
	first.Status = model.ProposalStatusWithdrawn
	require.NoError(t, st.UpdateProposal(ctx, first))
	err = st.CreateProposal(ctx, &model.Proposal{
		ID:        uuid.New(),
		ProjectID: project.ID,
		BidderID:  bidder,
		BidAmount: usd("12.00"),
		Status:    model.ProposalStatusPending,
	})
	assert.NoError(t, err)
}

func TestIdempotencyKeyIsUnique(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	project := seedProject(t, st)
	contract := &model.Contract{
		ID:           uuid.New(),
		ProjectID:    project.ID,
		BuyerID:      project.OwnerID,
		SellerID:     uuid.New(),
		Title:        "c",
		TotalAmount:  usd("100.00"),
		BilledAmount: usd("0.00"),
		PaidAmount:   usd("0.00"),
		Status:       model.ContractStatusActive,
	}
	require.NoError(t, st.CreateContract(ctx, contract))

	contractRef := contract.ID
	base := model.Transaction{
		ContractID:     &contractRef,
		Type:           model.TransactionTypeFund,
		Amount:         usd("100.00"),
		NetAmount:      usd("100.00"),
		PlatformFee:    usd("0.00"),
		ProcessorFee:   usd("0.00"),
		Status:         model.TransactionStatusPending,
		IdempotencyKey: "the-one-key",
		Provider:       "stub",
		InitiatedAt:    time.Now(),
	}

	first := base
	first.ID = uuid.New()
	require.NoError(t, st.CreateTransaction(ctx, &first))

	second := base
	second.ID = uuid.New()
	err := st.CreateTransaction(ctx, &second)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	found, err := st.GetTransactionByKey(ctx, "the-one-key")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func TestMilestonesListedInOrder(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	project := seedProject(t, st)
	contract := &model.Contract{
		ID:           uuid.New(),
		ProjectID:    project.ID,
		BuyerID:      project.OwnerID,
		SellerID:     uuid.New(),
		Title:        "c",
		TotalAmount:  usd("300.00"),
		BilledAmount: usd("0.00"),
		PaidAmount:   usd("0.00"),
		Status:       model.ContractStatusActive,
	}
	require.NoError(t, st.CreateContract(ctx, contract))

	for _, idx := range []int{3, 1, 2} {
		require.NoError(t, st.CreateMilestone(ctx, &model.Milestone{
			ID:         uuid.New(),
			ContractID: contract.ID,
			Title:      "m",
			OrderIndex: idx,
			Amount:     usd("100.00"),
			Status:     model.MilestoneStatusPending,
		}))
	}

	milestones, err := st.ListMilestonesByContract(ctx, contract.ID)
	require.NoError(t, err)
	require.Len(t, milestones, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{
		milestones[0].OrderIndex, milestones[1].OrderIndex, milestones[2].OrderIndex,
	})
}

func TestRejectsUnknownStatus(t *testing.T) {
	st := memory.New()
	project := seedProject(t, st)
	project.Status = model.ProjectStatus("LIMBO")
	err := st.UpdateProject(context.Background(), project)
	assert.Error(t, err)
}
