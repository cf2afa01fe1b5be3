package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"nhbvault/crypto"
	"nhbvault/events"
	"nhbvault/ledger"
	"nhbvault/numeric"
	"nhbvault/oracle"
	"nhbvault/vault"
)

const testJWTSecret = "vaultd-test-secret"

const e8 = 100_000_000

func makePrincipal(b byte) crypto.Principal {
	raw := make([]byte, 20)
	raw[19] = b
	return crypto.MustNewPrincipal(crypto.Prefix, raw)
}

func newTestServer(t *testing.T, rate uint64, now time.Time) (*Server, *ledger.Fake, *ledger.Fake) {
	t.Helper()
	dev := makePrincipal(0xD0)
	ctProtocol := makePrincipal(0xC0)
	stProtocol := makePrincipal(0x50)

	ctLedger := ledger.NewFake(ctProtocol, 1)
	stLedger := ledger.NewFake(stProtocol, 0)
	stLedger.Credit(stProtocol, 1<<62)

	feed := oracle.NewFake(rate, 0, now)
	state := vault.NewState(dev, vault.BorrowFeeDefault)
	state.LastPrice = numeric.PriceFromUnits(rate, 0)
	state.LastPriceTimestamp = now

	log := events.NewLog()
	clock := func() time.Time { return now }
	engine := vault.NewEngine(state, ctLedger, stLedger, feed, log, clock)

	srv, err := NewServer(engine, Config{
		JWTSecret:      []byte(testJWTSecret),
		JWTIssuer:      "vaultd-tests",
		RateLimitRPS:   100,
		RateLimitBurst: 100,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv, ctLedger, stLedger
}

func signTestJWT(t *testing.T, subject string, now time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Issuer:    "vaultd-tests",
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return signed
}

func TestHandleStatusUnauthenticated(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	srv, _, _ := newTestServer(t, 20000, now)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var status vault.ProtocolStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Mode != vault.ModeNormal {
		t.Fatalf("expected normal mode, got %v", status.Mode)
	}
}

func TestMutatingRouteRejectsMissingToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	srv, _, _ := newTestServer(t, 20000, now)

	body, _ := json.Marshal(openVaultRequest{Collateral: uint64(1 * e8)})
	req := httptest.NewRequest(http.MethodPost, "/v1/vaults", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestOpenVaultBorrowRepayCloseOverHTTP(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	srv, ctLedger, stLedger := newTestServer(t, 20000, now)
	user := makePrincipal(1)
	ctLedger.Credit(user, 1*e8)
	stLedger.Credit(user, 50*e8)

	token := signTestJWT(t, user.String(), now)
	authed := func(method, path string, payload interface{}) *httptest.ResponseRecorder {
		var body *bytes.Reader
		if payload != nil {
			encoded, err := json.Marshal(payload)
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
			body = bytes.NewReader(encoded)
		} else {
			body = bytes.NewReader(nil)
		}
		req := httptest.NewRequest(method, path, body)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	openRec := authed(http.MethodPost, "/v1/vaults", openVaultRequest{Collateral: uint64(1 * e8)})
	if openRec.Code != http.StatusCreated {
		t.Fatalf("expected 201 opening vault, got %d: %s", openRec.Code, openRec.Body.String())
	}
	var opened struct {
		VaultID vault.VaultID `json:"vault_id"`
	}
	if err := json.Unmarshal(openRec.Body.Bytes(), &opened); err != nil {
		t.Fatalf("decode open response: %v", err)
	}

	borrowRec := authed(http.MethodPost, "/v1/vaults/"+itoa(opened.VaultID)+"/borrow", amountRequest{Amount: uint64(10000 * e8)})
	if borrowRec.Code != http.StatusOK {
		t.Fatalf("expected 200 borrowing, got %d: %s", borrowRec.Code, borrowRec.Body.String())
	}

	repayRec := authed(http.MethodPost, "/v1/vaults/"+itoa(opened.VaultID)+"/repay", amountRequest{Amount: uint64(10000 * e8)})
	if repayRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 repaying, got %d: %s", repayRec.Code, repayRec.Body.String())
	}

	closeRec := authed(http.MethodDelete, "/v1/vaults/"+itoa(opened.VaultID), nil)
	if closeRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 closing, got %d: %s", closeRec.Code, closeRec.Body.String())
	}
}

func TestListVaultsByOwner(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	srv, ctLedger, _ := newTestServer(t, 20000, now)
	user := makePrincipal(2)
	ctLedger.Credit(user, 1*e8)
	token := signTestJWT(t, user.String(), now)

	body, _ := json.Marshal(openVaultRequest{Collateral: uint64(1 * e8)})
	openReq := httptest.NewRequest(http.MethodPost, "/v1/vaults", bytes.NewReader(body))
	openReq.Header.Set("Authorization", "Bearer "+token)
	openRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(openRec, openReq)
	if openRec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", openRec.Code, openRec.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/v1/vaults?owner="+user.String(), nil)
	listRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing vaults, got %d: %s", listRec.Code, listRec.Body.String())
	}
	var vaults []vault.Vault
	if err := json.Unmarshal(listRec.Body.Bytes(), &vaults); err != nil {
		t.Fatalf("decode vaults: %v", err)
	}
	if len(vaults) != 1 {
		t.Fatalf("expected 1 vault for owner, got %d", len(vaults))
	}
}

func itoa(id vault.VaultID) string {
	return strconv.FormatUint(uint64(id), 10)
}
