package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newSignRouter(t *testing.T) http.Handler {
	t.Helper()
	b := newTestBridge(t)
	pushBuildingCheckpoint(t, b)

	r := chi.NewRouter()
	r.Get("/api/checkpoints/{index}/to-sign", SigningTxs(b))
	r.Post("/api/checkpoints/{index}/sign", SubmitCheckpointSignature(b, newTestHub()))
	r.Post("/api/recovery/sign", SubmitRecoverySignature(b))
	r.Get("/api/recovery/signed", ListSignedRecoveryTxs(b))
	return r
}

func TestSigningTxs_InvalidXpub(t *testing.T) {
	router := newSignRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/checkpoints/0/to-sign?xpub=not-an-xpub", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSigningTxs_ValidXpub(t *testing.T) {
	router := newSignRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/checkpoints/0/to-sign?xpub="+testXpubString(t, 7), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

func TestSubmitCheckpointSignature_InvalidBody(t *testing.T) {
	router := newSignRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/checkpoints/0/sign", jsonBody(`not-json`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSubmitCheckpointSignature_InvalidXpub(t *testing.T) {
	router := newSignRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/checkpoints/0/sign", jsonBody(`{"xpub":"bad","sigs":[],"btcHeight":1}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSubmitRecoverySignature_NoPending(t *testing.T) {
	router := newSignRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/recovery/sign", jsonBody(`{"xpub":"`+testXpubString(t, 7)+`","sigs":[]}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (no pending recovery tx rejects nothing), body=%s", w.Code, w.Body.String())
	}
}

func TestListSignedRecoveryTxs_Empty(t *testing.T) {
	router := newSignRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/recovery/signed", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var out []map[string]interface{}
	decodeData(t, w.Body.Bytes(), &out)
	if len(out) != 0 {
		t.Errorf("len(out) = %d, want 0", len(out))
	}
}
