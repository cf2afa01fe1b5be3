package rpc

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"nhbvault/crypto"
	"nhbvault/numeric"
	"nhbvault/vault"
)

func vaultIDFromRequest(r *http.Request) (vault.VaultID, *ModuleError) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid vault id"}
	}
	return vault.VaultID(id), nil
}

func decodeJSONBody(r *http.Request, v interface{}) *ModuleError {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid request body"}
	}
	return nil
}

type openVaultRequest struct {
	Collateral uint64 `json:"collateral"`
}

func (s *Server) handleOpenVault(w http.ResponseWriter, r *http.Request) {
	caller, _ := principalFromContext(r.Context())
	var req openVaultRequest
	if modErr := decodeJSONBody(r, &req); modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	id, err := s.engine.OpenVault(r.Context(), caller, numeric.CT(req.Collateral))
	if err != nil {
		writeModuleError(w, mapProtocolError(err))
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		VaultID vault.VaultID `json:"vault_id"`
	}{VaultID: id})
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	caller, _ := principalFromContext(r.Context())
	id, modErr := vaultIDFromRequest(r)
	if modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	var req amountRequest
	if modErr := decodeJSONBody(r, &req); modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	net, err := s.engine.BorrowFromVault(r.Context(), caller, id, numeric.ST(req.Amount))
	if err != nil {
		writeModuleError(w, mapProtocolError(err))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		NetAmount uint64 `json:"net_amount"`
	}{NetAmount: uint64(net)})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	caller, _ := principalFromContext(r.Context())
	id, modErr := vaultIDFromRequest(r)
	if modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	var req amountRequest
	if modErr := decodeJSONBody(r, &req); modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	if err := s.engine.RepayToVault(r.Context(), caller, id, numeric.ST(req.Amount)); err != nil {
		writeModuleError(w, mapProtocolError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddMargin(w http.ResponseWriter, r *http.Request) {
	caller, _ := principalFromContext(r.Context())
	id, modErr := vaultIDFromRequest(r)
	if modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	var req amountRequest
	if modErr := decodeJSONBody(r, &req); modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	if err := s.engine.AddMarginToVault(r.Context(), caller, id, numeric.CT(req.Amount)); err != nil {
		writeModuleError(w, mapProtocolError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCloseVault(w http.ResponseWriter, r *http.Request) {
	caller, _ := principalFromContext(r.Context())
	id, modErr := vaultIDFromRequest(r)
	if modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	if err := s.engine.CloseVault(r.Context(), caller, id); err != nil {
		writeModuleError(w, mapProtocolError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	caller, _ := principalFromContext(r.Context())
	var req amountRequest
	if modErr := decodeJSONBody(r, &req); modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	collateralOut, err := s.engine.Redeem(r.Context(), caller, numeric.ST(req.Amount))
	if err != nil {
		writeModuleError(w, mapProtocolError(err))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		CollateralOut uint64 `json:"collateral_out"`
	}{CollateralOut: uint64(collateralOut)})
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if modErr := decodeJSONBody(r, &req); modErr != nil {
		writeModuleError(w, modErr)
		return
	}
	mode, err := vault.ParseMode(req.Mode)
	if err != nil {
		writeModuleError(w, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	s.engine.SetMode(mode)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListVaults(w http.ResponseWriter, r *http.Request) {
	ownerParam := r.URL.Query().Get("owner")
	var vaults []vault.Vault
	if ownerParam != "" {
		owner, err := crypto.DecodePrincipal(ownerParam)
		if err != nil {
			writeModuleError(w, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid owner principal"})
			return
		}
		vaults = s.engine.VaultsByOwner(owner)
	} else {
		vaults = s.engine.AllVaults()
	}
	writeJSON(w, http.StatusOK, vaults)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.FeeSchedule())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	start, _ := strconv.ParseUint(query.Get("start"), 10, 64)
	length, err := strconv.ParseUint(query.Get("length"), 10, 64)
	if err != nil || length == 0 {
		length = 100
	}
	writeJSON(w, http.StatusOK, s.engine.Events(start, length))
}
