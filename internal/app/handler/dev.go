package handler

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"depositgate/internal/app/logger"
	"depositgate/internal/app/model"
)

// Seeder is the write side of the in-memory store
type Seeder interface {
	Insert(ctx context.Context, m *model.Transaction) *model.Transaction
	PutAccount(phone string, balance decimal.Decimal)
}

// DevHandler feeds the in-memory store so the pipeline can run without postgres
type DevHandler struct {
	seeder Seeder
}

func NewDevHandler(seeder Seeder) *DevHandler {
	return &DevHandler{seeder: seeder}
}

func (h *DevHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	l := logger.Get(r.Context(), "Handler.Dev.CreateTransaction")

	in := struct {
		ID          string          `json:"id" validate:"omitempty,max=64"`
		Phone       string          `json:"player_phone" validate:"required,max=32"`
		Amount      decimal.Decimal `json:"amount"`
		Type        string          `json:"transaction_type" validate:"omitempty,oneof=deposit withdrawal"`
		Description string          `json:"description" validate:"max=500"`
	}{}

	if err := readBody(r, &in); err != nil {
		WriteError(w, err, http.StatusBadRequest)
		return
	}
	if !validateData(w, in) {
		return
	}
	if !in.Amount.IsPositive() {
		writeValidationErrors(w, ValidationErrors{{Msg: "amount must be positive", Param: "amount", Value: in.Amount.String()}})
		return
	}

	t := model.TransactionTypeDeposit
	if in.Type != "" {
		t = model.TransactionType(in.Type)
	}

	m := h.seeder.Insert(r.Context(), &model.Transaction{
		ID:          in.ID,
		Phone:       in.Phone,
		Amount:      in.Amount,
		Type:        t,
		Description: in.Description,
	})
	l.Debug().Str("transaction_id", m.ID).Msg("Transaction inserted")

	WriteResponse(w, m, http.StatusCreated)
}

func (h *DevHandler) PutAccount(w http.ResponseWriter, r *http.Request) {
	in := struct {
		Phone   string          `json:"phone" validate:"required,max=32"`
		Balance decimal.Decimal `json:"balance"`
	}{}

	if err := readBody(r, &in); err != nil {
		WriteError(w, err, http.StatusBadRequest)
		return
	}
	if !validateData(w, in) {
		return
	}

	h.seeder.PutAccount(in.Phone, in.Balance)

	WriteResponse(w, in, http.StatusOK)
}
