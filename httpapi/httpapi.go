// Package httpapi is the thin HTTP adapter over the vault core. It owns no
// semantics: request/response shapes, error kinds, and the status mapping
// come from the core's contract.
package httpapi

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"xdao.co/vault/anchor"
	"xdao.co/vault/canonical"
	"xdao.co/vault/ledger"
	"xdao.co/vault/model"
	"xdao.co/vault/verify"
)

// Server wires the core operations behind HTTP routes.
type Server struct {
	Anchors  *anchor.Service
	Log      *ledger.Log
	Verifier *verify.Verifier
	Logger   *zap.Logger
}

// Handler returns the route table:
//
//	POST /vault/anchor/write
//	GET  /vault/stream/{id}/tip
//	POST /vault/verify/receipt
//	POST /vault/verify/stream/{id}
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /vault/anchor/write", s.handleAnchorWrite)
	mux.HandleFunc("GET /vault/stream/{id}/tip", s.handleStreamTip)
	mux.HandleFunc("POST /vault/verify/receipt", s.handleVerifyReceipt)
	mux.HandleFunc("POST /vault/verify/stream/{id}", s.handleVerifyStream)
	return mux
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := model.KindOf(err)
	if kind == "" {
		kind = model.KindStorageError
	}
	status := model.HTTPStatus(kind)
	s.logger().Debug("request failed",
		zap.String("kind", string(kind)), zap.Int("status", status))
	writeJSON(w, status, errorBody{Error: string(kind), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleAnchorWrite(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.writeError(w, model.WrapError(model.KindCanonicalizationFail, "read body", err))
		return
	}

	// The body passes through the canonicalizer's parser first, so floats,
	// duplicate keys, and malformed JSON all surface as 422 before any
	// request semantics apply.
	rec, err := canonical.Parse(body)
	if err != nil {
		s.writeError(w, model.WrapError(model.KindCanonicalizationFail, "body rejected", err))
		return
	}
	req, err := requestFromRecord(rec)
	if err != nil {
		s.writeError(w, err)
		return
	}

	receipt, err := s.Anchors.WriteAnchor(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func requestFromRecord(rec model.Record) (model.AnchorRequest, error) {
	var req model.AnchorRequest
	for key, dst := range map[string]*string{
		"schema_version":      &req.SchemaVersion,
		"artifact_kind":       &req.ArtifactKind,
		"payload_hash_sha256": &req.PayloadHashSHA256,
		"run_id":              &req.RunID,
		"operator":            &req.Operator,
		"ts":                  &req.TS,
	} {
		v, ok := rec[key]
		if !ok {
			continue
		}
		str, ok := v.(string)
		if !ok {
			return req, model.NewError(model.KindMissingRequiredField, key+" must be a string")
		}
		*dst = str
	}
	return req, nil
}

func (s *Server) handleStreamTip(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tip, err := s.Log.Tip(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if tip == nil {
		writeJSON(w, http.StatusOK, map[string]any{"stream": id, "tip": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stream": id, "tip": tip})
}

// handleVerifyStream replays a committed stream. Verification is a write
// operation in one respect: a broken stream is halted for writers, so the
// route is POST.
func (s *Server) handleVerifyStream(w http.ResponseWriter, r *http.Request) {
	report, err := s.Verifier.VerifyStream(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type verifyReceiptRequest struct {
	Receipt   model.AnchorReceipt `json:"receipt"`
	PublicKey string              `json:"public_key"`
}

type verifyReceiptResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleVerifyReceipt(w http.ResponseWriter, r *http.Request) {
	var req verifyReceiptRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, model.WrapError(model.KindCanonicalizationFail, "body rejected", err))
		return
	}
	raw, err := hex.DecodeString(strings.TrimSpace(req.PublicKey))
	if err != nil || len(raw) != ed25519.PublicKeySize {
		s.writeError(w, model.NewError(model.KindUnknownKey, "public_key must be 32 hex-encoded bytes"))
		return
	}
	if err := verify.VerifyReceipt(req.Receipt, ed25519.PublicKey(raw)); err != nil {
		writeJSON(w, http.StatusOK, verifyReceiptResponse{OK: false, Reason: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, verifyReceiptResponse{OK: true})
}
