package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/taskhub/escrow/internal/auth"
	"github.com/taskhub/escrow/internal/escrow"
	"github.com/taskhub/escrow/internal/excel"
	httphandler "github.com/taskhub/escrow/internal/http"
	"github.com/taskhub/escrow/internal/http/middleware"
	"github.com/taskhub/escrow/internal/lifecycle"
	"github.com/taskhub/escrow/internal/model"
	"github.com/taskhub/escrow/internal/money"
	"github.com/taskhub/escrow/internal/pdf"
	"github.com/taskhub/escrow/internal/statement"
	"github.com/taskhub/escrow/internal/store/memory"
)

const testSecret = "handler-test-secret"

type testServer struct {
	router *gin.Engine
	store  *memory.Store
	engine *lifecycle.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := memory.New()
	engine := lifecycle.NewEngine(st, nil, zerolog.Nop(), lifecycle.Config{})
	policy := escrow.RetryPolicy{
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
	orchestrator := escrow.NewOrchestrator(
		st, engine, escrow.StubProvider{}, "stub", policy, money.FeeSchedule{}, zerolog.Nop())

	handler := httphandler.NewHandler(
		engine, orchestrator, st, statement.NewService(st),
		pdf.NewGenerator(), excel.NewGenerator(), nil, zerolog.Nop())
	router := httphandler.NewRouter(handler, middleware.Auth(auth.NewParser(testSecret)), "test")

	return &testServer{router: router, store: st, engine: engine}
}

func bearer(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub":  userID.String(),
		"role": "user",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

// activeContract seeds a signed contract with one funded-ready milestone and
// returns the pieces the escrow routes need.
func (s *testServer) activeContract(t *testing.T, buyer, seller uuid.UUID) (*model.Contract, []model.Milestone) {
	t.Helper()
	ctx := context.Background()

	project, err := s.engine.CreateProject(ctx, lifecycle.CreateProjectInput{
		OwnerID:  buyer,
		Title:    "site build",
		Currency: "USD",
	})
	require.NoError(t, err)
	_, err = s.engine.OpenProject(ctx, project.ID, buyer)
	require.NoError(t, err)

	total, err := money.Parse("500.00", "USD")
	require.NoError(t, err)
	contract, err := s.engine.CreateContract(ctx, lifecycle.CreateContractInput{
		ProjectID:   project.ID,
		BuyerID:     buyer,
		SellerID:    seller,
		Title:       "site build",
		TotalAmount: total,
	})
	require.NoError(t, err)

	amount, err := money.Parse("500.00", "USD")
	require.NoError(t, err)
	milestones, err := s.engine.CreateMilestones(ctx, contract.ID, buyer, []lifecycle.MilestoneInput{
		{Title: "everything", Amount: amount, OrderIndex: 1},
	})
	require.NoError(t, err)

	_, err = s.engine.SignContract(ctx, contract.ID, buyer)
	require.NoError(t, err)
	contract, err = s.engine.SignContract(ctx, contract.ID, seller)
	require.NoError(t, err)
	require.Equal(t, model.ContractStatusActive, contract.Status)

	return contract, milestones
}

func TestRoutesRequireBearerToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/projects/"+uuid.NewString(), "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/projects/"+uuid.NewString(), "Bearer not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProjectLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	buyer := uuid.New()
	seller := uuid.New()

	rec := s.do(t, http.MethodPost, "/projects", bearer(t, buyer), gin.H{
		"title":    "site build",
		"currency": "usd",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var project struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	}
	decodeBody(t, rec, &project)
	require.Equal(t, "DRAFT", project.Status)

	rec = s.do(t, http.MethodPost, "/projects/"+project.ID.String()+"/open", bearer(t, buyer), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/projects/"+project.ID.String()+"/proposals", bearer(t, seller), gin.H{
		"bid_amount": "450.00",
		"currency":   "USD",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var proposal struct {
		ID uuid.UUID `json:"id"`
	}
	decodeBody(t, rec, &proposal)

	rec = s.do(t, http.MethodPost, "/proposals/"+proposal.ID.String()+"/accept", bearer(t, buyer), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var contract struct {
		Status   string    `json:"status"`
		SellerID uuid.UUID `json:"seller_id"`
	}
	decodeBody(t, rec, &contract)
	require.Equal(t, "DRAFT", contract.Status)
	require.Equal(t, seller, contract.SellerID)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	buyer := uuid.New()

	// unknown entity
	rec := s.do(t, http.MethodGet, "/projects/"+uuid.NewString(), bearer(t, buyer), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// missing required fields
	rec = s.do(t, http.MethodPost, "/projects", bearer(t, buyer), gin.H{"title": "no currency"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// illegal transition: DRAFT cannot complete
	project, err := s.engine.CreateProject(context.Background(), lifecycle.CreateProjectInput{
		OwnerID:  buyer,
		Title:    "draft",
		Currency: "USD",
	})
	require.NoError(t, err)
	rec = s.do(t, http.MethodPost, "/projects/"+project.ID.String()+"/complete", bearer(t, buyer), nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	// acting on someone else's project
	rec = s.do(t, http.MethodPost, "/projects/"+project.ID.String()+"/open", bearer(t, uuid.New()), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestFundAndReleaseOverHTTP(t *testing.T) {
	s := newTestServer(t)
	buyer := uuid.New()
	seller := uuid.New()
	contract, milestones := s.activeContract(t, buyer, seller)
	milestoneID := milestones[0].ID.String()

	rec := s.do(t, http.MethodPost, "/milestones/"+milestoneID+"/fund", bearer(t, buyer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var txn struct {
		Type   string `json:"type"`
		Status string `json:"status"`
	}
	decodeBody(t, rec, &txn)
	require.Equal(t, "fund", txn.Type)
	require.Equal(t, "success", txn.Status)

	for _, step := range []string{"start", "submit", "approve"} {
		rec = s.do(t, http.MethodPost, "/milestones/"+milestoneID+"/"+step, pickActor(t, step, buyer, seller), gin.H{})
		require.Equalf(t, http.StatusOK, rec.Code, "step %s: %s", step, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/milestones/"+milestoneID+"/release", bearer(t, buyer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &txn)
	require.Equal(t, "release", txn.Type)
	require.Equal(t, "success", txn.Status)

	rec = s.do(t, http.MethodGet, "/contracts/"+contract.ID.String()+"/transactions", bearer(t, buyer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []struct {
		Type string `json:"type"`
	}
	decodeBody(t, rec, &listed)
	types := make([]string, len(listed))
	for i, item := range listed {
		types[i] = item.Type
	}
	require.Contains(t, types, "fund")
	require.Contains(t, types, "release")
	require.Contains(t, types, "payout")
}

// pickActor maps milestone workflow steps to the party allowed to perform
// them: the seller works, the buyer approves.
func pickActor(t *testing.T, step string, buyer, seller uuid.UUID) string {
	t.Helper()
	if step == "approve" {
		return bearer(t, buyer)
	}
	return bearer(t, seller)
}

func TestStatementExports(t *testing.T) {
	s := newTestServer(t)
	buyer := uuid.New()
	seller := uuid.New()
	contract, _ := s.activeContract(t, buyer, seller)
	base := "/contracts/" + contract.ID.String() + "/statement"

	rec := s.do(t, http.MethodPost, base, bearer(t, buyer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")

	rec = s.do(t, http.MethodPost, base+"/pdf", bearer(t, seller), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	// not a party
	rec = s.do(t, http.MethodPost, base, bearer(t, uuid.New()), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPaymentCallbackReconciles(t *testing.T) {
	s := newTestServer(t)
	buyer := uuid.New()
	seller := uuid.New()
	_, milestones := s.activeContract(t, buyer, seller)

	rec := s.do(t, http.MethodPost, "/milestones/"+milestones[0].ID.String()+"/fund", bearer(t, buyer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var txn struct {
		ID uuid.UUID `json:"id"`
	}
	decodeBody(t, rec, &txn)

	// redelivered success callbacks are absorbed
	rec = s.do(t, http.MethodPost, "/payments/callback", bearer(t, buyer), gin.H{
		"transaction_id": txn.ID.String(),
		"status":         "success",
		"provider_ref":   fmt.Sprintf("evt_%s", txn.ID),
	})
	require.Equal(t, http.StatusNoContent, rec.Code)
}
