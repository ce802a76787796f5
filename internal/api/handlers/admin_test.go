package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

// validConsensusKeyHex is 32 bytes hex-encoded, matching the {7} key
// newTestBridge declares a signatory xpub for.
const validConsensusKeyHex = "0700000000000000000000000000000000000000000000000000000000000000"

func newAdminRouter(t *testing.T) http.Handler {
	t.Helper()
	b := newTestBridge(t)

	r := chi.NewRouter()
	r.Post("/api/admin/validators/whitelist", SetWhitelistValidator(b))
	r.Post("/api/admin/validators/punish", PunishValidator(b))
	r.Post("/api/signatory-key", SetSignatoryKey(b))
	r.Put("/api/admin/config/checkpoint", UpdateCheckpointConfig(b))
	r.Put("/api/admin/config/bitcoin", UpdateBitcoinConfig(b))
	return r
}

func TestSetWhitelistValidator_InvalidConsensusKeyHex(t *testing.T) {
	router := newAdminRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/validators/whitelist", jsonBody(`{"consensusKey":"not-hex","whitelisted":true}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", w.Code, w.Body.String())
	}
}

func TestSetWhitelistValidator_WrongKeyLength(t *testing.T) {
	router := newAdminRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/validators/whitelist", jsonBody(`{"consensusKey":"aabb","whitelisted":true}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a non-32-byte key, body=%s", w.Code, w.Body.String())
	}
}

func TestSetWhitelistValidator_Accepted(t *testing.T) {
	router := newAdminRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/validators/whitelist", jsonBody(`{"consensusKey":"`+validConsensusKeyHex+`","whitelisted":true}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

func TestPunishValidator_Accepted(t *testing.T) {
	router := newAdminRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/validators/punish", jsonBody(`{"consensusKey":"`+validConsensusKeyHex+`","punished":true}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

func TestSetSignatoryKey_InvalidXpub(t *testing.T) {
	router := newAdminRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/signatory-key", jsonBody(`{"consensusKey":"`+validConsensusKeyHex+`","xpub":"not-an-xpub"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSetSignatoryKey_DuplicateRejected(t *testing.T) {
	router := newAdminRouter(t)

	// newTestBridge already declares consensus key {7} against its own
	// xpub fixture; declaring a different xpub for the same key must be
	// rejected (bridge.ErrDuplicateSignatoryKey).
	otherXpub := testXpubString(t, 99)

	req := httptest.NewRequest(http.MethodPost, "/api/signatory-key", jsonBody(`{"consensusKey":"`+validConsensusKeyHex+`","xpub":"`+otherXpub+`"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a conflicting re-declaration, body=%s", w.Code, w.Body.String())
	}
}

func TestUpdateCheckpointConfig_Accepted(t *testing.T) {
	router := newAdminRouter(t)

	req := httptest.NewRequest(http.MethodPut, "/api/admin/config/checkpoint", jsonBody(`{"minFeeRate":10,"maxFeeRate":500}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

func TestUpdateBitcoinConfig_Accepted(t *testing.T) {
	router := newAdminRouter(t)

	req := httptest.NewRequest(http.MethodPut, "/api/admin/config/bitcoin", jsonBody(`{"capacityLimitSats":21000000}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}
