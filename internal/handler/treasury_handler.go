// Package handler provides the HTTP handlers of the treasury API.
package handler

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/devrev/treasury/internal/auth"
	"github.com/devrev/treasury/internal/errors"
	"github.com/devrev/treasury/internal/ledger"
	"github.com/devrev/treasury/internal/model"
	"github.com/devrev/treasury/internal/service"
	"github.com/devrev/treasury/internal/validation"
	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Signed carries the proof that the acting account authorized the request.
// The signature covers auth.Message(op, Timestamp, fields...) where fields
// are the request's addresses and amount in the order documented on each
// request type.
type Signed struct {
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

// InitializeTreasuryRequest is the body of POST /v1/treasuries.
// Signed fields: authority.
type InitializeTreasuryRequest struct {
	Authority string `json:"authority"`
	Signed
}

// DepositRequest is the body of POST /v1/treasuries/{address}/deposits.
// Signed fields: treasury, depositor, amount.
type DepositRequest struct {
	Depositor string `json:"depositor"`
	Amount    uint64 `json:"amount"`
	Signed
}

// DistributeRequest is the body of POST /v1/treasuries/{address}/distributions.
// Signed fields: treasury, authority, recipient, amount.
type DistributeRequest struct {
	Authority string `json:"authority"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
	Signed
}

// TransferRequest is the body of POST /v1/transfers.
// Signed fields: sender, recipient, amount.
type TransferRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
	Signed
}

// TreasuryResponse describes a treasury and its vault balance
type TreasuryResponse struct {
	Address     string `json:"address"`
	Authority   string `json:"authority"`
	Bump        uint8  `json:"bump"`
	Lamports    uint64 `json:"lamports"`
	SOL         string `json:"sol"`
	Initialized bool   `json:"initialized"`
}

// OperationResponse is returned by every state-changing endpoint
type OperationResponse struct {
	Status   string            `json:"status"`
	Receipt  *ledger.Receipt   `json:"receipt"`
	Treasury *TreasuryResponse `json:"treasury,omitempty"`
}

// AccountResponse describes a committed account
type AccountResponse struct {
	Address  string `json:"address"`
	Owner    string `json:"owner"`
	Lamports uint64 `json:"lamports"`
	SOL      string `json:"sol"`
	DataSize int    `json:"data_size"`
}

// TreasuryHandler serves the treasury API
type TreasuryHandler struct {
	treasuries   *service.TreasuryService
	verifier     *auth.Verifier
	validator    *validation.Validator
	errorHandler *ErrorHandler
	logger       *zap.Logger
}

// NewTreasuryHandler creates a new treasury handler
func NewTreasuryHandler(
	treasuries *service.TreasuryService,
	verifier *auth.Verifier,
	validator *validation.Validator,
	errorHandler *ErrorHandler,
	logger *zap.Logger,
) *TreasuryHandler {
	return &TreasuryHandler{
		treasuries:   treasuries,
		verifier:     verifier,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// RegisterRoutes mounts the API under router
func (h *TreasuryHandler) RegisterRoutes(router *mux.Router) {
	v1 := router.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/treasuries", h.InitializeTreasury).Methods(http.MethodPost)
	v1.HandleFunc("/treasuries/{address}", h.GetTreasury).Methods(http.MethodGet)
	v1.HandleFunc("/treasuries/{address}/deposits", h.Deposit).Methods(http.MethodPost)
	v1.HandleFunc("/treasuries/{address}/distributions", h.Distribute).Methods(http.MethodPost)
	v1.HandleFunc("/authorities/{authority}/treasury", h.FindTreasury).Methods(http.MethodGet)
	v1.HandleFunc("/transfers", h.Transfer).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{address}", h.GetAccount).Methods(http.MethodGet)
}

// InitializeTreasury handles POST /v1/treasuries
func (h *TreasuryHandler) InitializeTreasury(w http.ResponseWriter, r *http.Request) {
	var req InitializeTreasuryRequest
	if err := h.decode(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	authority, err := h.validator.ParseAddress("authority", req.Authority)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	signers, err := h.authenticate(authority, req.Signed, auth.OpInitialize, authority.String())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	result, err := h.treasuries.InitializeTreasury(r.Context(), &service.InitializeRequest{
		Authority: authority,
		Signers:   signers,
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeResult(w, http.StatusCreated, result)
}

// Deposit handles POST /v1/treasuries/{address}/deposits
func (h *TreasuryHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	treasury, err := h.validator.ParseAddress("address", mux.Vars(r)["address"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	var req DepositRequest
	if err := h.decode(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	depositor, err := h.validator.ParseAddress("depositor", req.Depositor)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if err := h.validator.ValidateAmount(req.Amount); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	signers, err := h.authenticate(depositor, req.Signed, auth.OpDeposit,
		treasury.String(), depositor.String(), formatAmount(req.Amount))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	result, err := h.treasuries.Deposit(r.Context(), &service.DepositRequest{
		Depositor: depositor,
		Treasury:  treasury,
		Amount:    req.Amount,
		Signers:   signers,
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeResult(w, http.StatusOK, result)
}

// Distribute handles POST /v1/treasuries/{address}/distributions
func (h *TreasuryHandler) Distribute(w http.ResponseWriter, r *http.Request) {
	treasury, err := h.validator.ParseAddress("address", mux.Vars(r)["address"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	var req DistributeRequest
	if err := h.decode(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	authority, err := h.validator.ParseAddress("authority", req.Authority)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	recipient, err := h.validator.ParseAddress("recipient", req.Recipient)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if err := h.validator.ValidateAmount(req.Amount); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	signers, err := h.authenticate(authority, req.Signed, auth.OpDistribute,
		treasury.String(), authority.String(), recipient.String(), formatAmount(req.Amount))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	result, err := h.treasuries.Distribute(r.Context(), &service.DistributeRequest{
		Authority: authority,
		Treasury:  treasury,
		Recipient: recipient,
		Amount:    req.Amount,
		Signers:   signers,
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeResult(w, http.StatusOK, result)
}

// Transfer handles POST /v1/transfers
func (h *TreasuryHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := h.decode(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	sender, err := h.validator.ParseAddress("sender", req.Sender)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	recipient, err := h.validator.ParseAddress("recipient", req.Recipient)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if err := h.validator.ValidateAmount(req.Amount); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	signers, err := h.authenticate(sender, req.Signed, auth.OpTransfer,
		sender.String(), recipient.String(), formatAmount(req.Amount))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	result, err := h.treasuries.TransferDirect(r.Context(), &service.TransferRequest{
		Sender:    sender,
		Recipient: recipient,
		Amount:    req.Amount,
		Signers:   signers,
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeResult(w, http.StatusOK, result)
}

// GetTreasury handles GET /v1/treasuries/{address}
func (h *TreasuryHandler) GetTreasury(w http.ResponseWriter, r *http.Request) {
	address, err := h.validator.ParseAddress("address", mux.Vars(r)["address"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	view, err := h.treasuries.GetTreasury(r.Context(), address)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, toTreasuryResponse(view))
}

// FindTreasury handles GET /v1/authorities/{authority}/treasury. The vault
// address is returned even before the treasury is initialized.
func (h *TreasuryHandler) FindTreasury(w http.ResponseWriter, r *http.Request) {
	authority, err := h.validator.ParseAddress("authority", mux.Vars(r)["authority"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	view, err := h.treasuries.FindTreasury(r.Context(), authority)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, toTreasuryResponse(view))
}

// GetAccount handles GET /v1/accounts/{address}
func (h *TreasuryHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	address, err := h.validator.ParseAddress("address", mux.Vars(r)["address"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	acct, err := h.treasuries.Balance(r.Context(), address)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, &AccountResponse{
		Address:  acct.Address.String(),
		Owner:    acct.Owner.String(),
		Lamports: acct.Lamports,
		SOL:      model.LamportsToSOL(acct.Lamports).String(),
		DataSize: len(acct.Data),
	})
}

// authenticate verifies that signer signed the request and returns the
// transaction's signer set
func (h *TreasuryHandler) authenticate(
	signer solana.PublicKey,
	signed Signed,
	op string,
	fields ...string,
) ([]solana.PublicKey, error) {
	if err := h.validator.ValidateSignature(signed.Signature, signed.Timestamp); err != nil {
		return nil, err
	}
	if err := h.verifier.Verify(signer, signed.Signature, op, signed.Timestamp, fields...); err != nil {
		return nil, err
	}
	return []solana.PublicKey{signer}, nil
}

func (h *TreasuryHandler) decode(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.InvalidArgument("request body is required", nil)
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return err
		}
		return errors.InvalidArgument("invalid request body", err)
	}
	return nil
}

func (h *TreasuryHandler) writeResult(w http.ResponseWriter, statusCode int, result *service.OperationResult) {
	resp := &OperationResponse{
		Status:  "ok",
		Receipt: result.Receipt,
	}
	if result.Treasury != nil {
		resp.Treasury = toTreasuryResponse(result.Treasury)
	}
	h.writeJSONResponse(w, statusCode, resp)
}

func (h *TreasuryHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

func toTreasuryResponse(view *service.TreasuryView) *TreasuryResponse {
	return &TreasuryResponse{
		Address:     view.Address.String(),
		Authority:   view.Authority.String(),
		Bump:        view.Bump,
		Lamports:    view.Lamports,
		SOL:         model.LamportsToSOL(view.Lamports).String(),
		Initialized: view.Initialized,
	}
}

func formatAmount(amount uint64) string {
	return strconv.FormatUint(amount, 10)
}
