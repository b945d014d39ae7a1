package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"bountygo/native/escrow"
	"bountygo/native/promo"
	"bountygo/native/params"
	"bountygo/native/token"
	"bountygo/state"
	"bountygo/storage"
)

const (
	testOwner    = "0x0101010101010101010101010101010101010101"
	testTreasury = "0x0202020202020202020202020202020202020202"
	testSponsor  = "0x0404040404040404040404040404040404040404"
	testWinner   = "0x0505050505050505050505050505050505050505"
	testCustomer = "0x0606060606060606060606060606060606060606"
)

type rpcFixture struct {
	server *Server
	ledger *token.MemLedger
	now    int64
}

func mustAddr(t *testing.T, value string) [20]byte {
	t.Helper()
	addr, err := parseAddress(value)
	require.NoError(t, err)
	return addr
}

func newRPCFixture(t *testing.T) *rpcFixture {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	ledger := token.NewMemLedger()
	registry := token.NewRegistry()
	require.NoError(t, registry.Add("BUSD", 0, ledger))
	store := params.NewStore(manager)

	owner := mustAddr(t, testOwner)
	treasury := mustAddr(t, testTreasury)
	vault := mustAddr(t, "0x0303030303030303030303030303030303030303")

	fixture := &rpcFixture{ledger: ledger, now: 1_000_000}

	escrowEngine := escrow.NewEngine()
	escrowEngine.SetState(manager)
	escrowEngine.SetRegistry(registry)
	escrowEngine.SetParams(store)
	escrowEngine.SetOwner(owner)
	escrowEngine.SetFeeTreasury(treasury)
	escrowEngine.SetVault(vault)
	escrowEngine.SetNowFunc(func() int64 { return fixture.now })

	promoEngine := promo.NewEngine()
	promoEngine.SetState(manager)
	promoEngine.SetRegistry(registry)
	promoEngine.SetParams(store)
	promoEngine.SetOwner(owner)
	promoEngine.SetTreasury(treasury)
	promoEngine.SetVault(vault)
	promoEngine.SetBaseToken("BUSD")
	promoEngine.SetNowFunc(func() int64 { return fixture.now })
	require.NoError(t, promoEngine.SeedCatalog(promo.DefaultCatalog(0)))

	fixture.server = NewServer(escrowEngine, promoEngine, manager, registry, map[string]token.Ledger{"BUSD": ledger}, nil)

	// Seed and approve the paying accounts.
	for _, account := range []string{testSponsor, testCustomer} {
		addr := mustAddr(t, account)
		require.NoError(t, ledger.Mint(addr, big.NewInt(10_000)))
		require.NoError(t, ledger.Approve(addr, vault, big.NewInt(10_000)))
	}
	return fixture
}

func (f *rpcFixture) call(t *testing.T, method string, params interface{}) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	encoded, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []json.RawMessage{encoded},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	recorder := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(recorder, req)

	var resp RPCResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	return recorder, resp
}

func testTaskIDHex(fill byte) string {
	return "0x" + hex.EncodeToString(bytes.Repeat([]byte{fill}, 32))
}

func TestUnknownMethod(t *testing.T) {
	f := newRPCFixture(t)
	rec, resp := f.call(t, "escrow_doesNotExist", map[string]string{})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestDepositReleaseFlow(t *testing.T) {
	f := newRPCFixture(t)
	taskID := testTaskIDHex(0xA1)

	rec, resp := f.call(t, "escrow_deposit", map[string]interface{}{
		"taskId":   taskID,
		"sponsor":  testSponsor,
		"token":    "BUSD",
		"amount":   "500",
		"deadline": f.now + 3600,
	})
	require.Equal(t, http.StatusOK, rec.Code, "deposit: %v", resp.Error)
	require.Nil(t, resp.Error)

	rec, resp = f.call(t, "escrow_release", map[string]interface{}{
		"taskId": taskID,
		"caller": testSponsor,
		"winner": testWinner,
	})
	require.Equal(t, http.StatusOK, rec.Code, "release: %v", resp.Error)

	result, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var task taskJSON
	require.NoError(t, json.Unmarshal(result, &task))
	require.Equal(t, "completed", task.Status)
	require.Equal(t, "500", task.Amount)

	// 250 bps of 500: 12 to the treasury, 488 to the winner.
	require.EqualValues(t, 12, f.ledger.BalanceOf(mustAddr(t, testTreasury)).Int64())
	require.EqualValues(t, 488, f.ledger.BalanceOf(mustAddr(t, testWinner)).Int64())
}

func TestDepositErrorsMapToModuleCodes(t *testing.T) {
	f := newRPCFixture(t)
	rec, resp := f.call(t, "escrow_deposit", map[string]interface{}{
		"taskId":   testTaskIDHex(0xA2),
		"sponsor":  testSponsor,
		"token":    "DOGE",
		"amount":   "500",
		"deadline": f.now + 3600,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeEscrowInvalidParams, resp.Error.Code)
}

func TestReleaseUnauthorizedCode(t *testing.T) {
	f := newRPCFixture(t)
	taskID := testTaskIDHex(0xA3)
	_, resp := f.call(t, "escrow_deposit", map[string]interface{}{
		"taskId":   taskID,
		"sponsor":  testSponsor,
		"token":    "BUSD",
		"amount":   "500",
		"deadline": f.now + 3600,
	})
	require.Nil(t, resp.Error)

	rec, resp := f.call(t, "escrow_release", map[string]interface{}{
		"taskId": taskID,
		"caller": testCustomer,
		"winner": testWinner,
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, codeEscrowForbidden, resp.Error.Code)
}

func TestPromoQuoteAndPay(t *testing.T) {
	f := newRPCFixture(t)

	_, resp := f.call(t, "promo_quote", map[string]interface{}{
		"service":  "banner_display",
		"duration": 2,
		"token":    "BUSD",
	})
	require.Nil(t, resp.Error)
	result, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var quote map[string]string
	require.NoError(t, json.Unmarshal(result, &quote))
	require.Equal(t, "100", quote["expectedAmount"])

	// Underpayment is rejected with the promo parameter code.
	rec, resp := f.call(t, "promo_pay", map[string]interface{}{
		"customer": testCustomer,
		"service":  "banner_display",
		"duration": 2,
		"token":    "BUSD",
		"amount":   "99",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, codePromoInvalidParams, resp.Error.Code)

	rec, resp = f.call(t, "promo_pay", map[string]interface{}{
		"customer": testCustomer,
		"service":  "banner_display",
		"duration": 2,
		"token":    "BUSD",
		"amount":   "100",
		"metadata": "homepage",
	})
	require.Equal(t, http.StatusOK, rec.Code, "pay: %v", resp.Error)

	result, err = json.Marshal(resp.Result)
	require.NoError(t, err)
	var order orderJSON
	require.NoError(t, json.Unmarshal(result, &order))
	require.Equal(t, "pending", order.Status)
	require.EqualValues(t, 1, order.OrderID)

	// The owner drives the lifecycle.
	rec, resp = f.call(t, "promo_activate", map[string]interface{}{
		"orderId": order.OrderID,
		"caller":  testOwner,
	})
	require.Equal(t, http.StatusOK, rec.Code, "activate: %v", resp.Error)

	rec, resp = f.call(t, "promo_complete", map[string]interface{}{
		"orderId": order.OrderID,
		"caller":  testOwner,
	})
	require.Equal(t, http.StatusOK, rec.Code, "complete: %v", resp.Error)

	result, err = json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(result, &order))
	require.Equal(t, "completed", order.Status)
}

func TestPromoGetUnknownOrder(t *testing.T) {
	f := newRPCFixture(t)
	rec, resp := f.call(t, "promo_get", map[string]interface{}{"orderId": 42})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, codePromoNotFound, resp.Error.Code)
}

func TestTokenList(t *testing.T) {
	f := newRPCFixture(t)
	_, resp := f.call(t, "token_list", map[string]string{})
	require.Nil(t, resp.Error)
	result, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var symbols []string
	require.NoError(t, json.Unmarshal(result, &symbols))
	require.Equal(t, []string{"BUSD"}, symbols)
}

func TestBearerTokenGatesMutations(t *testing.T) {
	f := newRPCFixture(t)
	f.server.authToken = "secret"

	payload := map[string]interface{}{
		"taskId":   testTaskIDHex(0xA4),
		"sponsor":  testSponsor,
		"token":    "BUSD",
		"amount":   "500",
		"deadline": f.now + 3600,
	}
	encoded, err := json.Marshal(payload)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "escrow_deposit",
		"params":  []json.RawMessage{encoded},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	recorder := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(recorder, req)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	recorder = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)

	// Reads stay open.
	req = httptest.NewRequest(http.MethodPost, "/", mustBody(t, "escrow_get", map[string]string{"taskId": testTaskIDHex(0xA4)}))
	recorder = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)
}

func mustBody(t *testing.T, method string, params interface{}) *bytes.Reader {
	t.Helper()
	encoded, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []json.RawMessage{encoded},
	})
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func TestParseHelpers(t *testing.T) {
	if _, err := parseAddress("not-an-address"); err == nil {
		t.Fatalf("invalid address accepted")
	}
	if _, err := parseTaskID("0x1234"); err == nil {
		t.Fatalf("short task id accepted")
	}
	if _, err := parsePositiveBigInt("0"); err == nil {
		t.Fatalf("zero amount accepted")
	}
	if _, err := parsePositiveBigInt("abc"); err == nil {
		t.Fatalf("garbage amount accepted")
	}
	if _, err := parseNonNegativeBigInt("0"); err != nil {
		t.Fatalf("zero should be valid for prices: %v", err)
	}
	if _, err := parseNonNegativeBigInt("-5"); err == nil {
		t.Fatalf("negative price accepted")
	}
	id, err := parseTaskID(testTaskIDHex(0xAB))
	if err != nil {
		t.Fatalf("parse task id: %v", err)
	}
	if formatTaskID(id) != testTaskIDHex(0xAB) {
		t.Fatalf("task id round trip mismatch")
	}
}
