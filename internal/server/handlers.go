package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/askdocs/askdocs/internal/auth"
	"github.com/askdocs/askdocs/internal/loader"
	"github.com/askdocs/askdocs/internal/rag"
	"github.com/askdocs/askdocs/internal/store"
)

// dummyPasswordHash is compared against when login hits an unknown
// email, so the unknown-email and wrong-password paths cost the same.
// bcrypt hash of an unused throwaway value.
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type chatRequest struct {
	Question string `json:"question"`
}

type chatResponse struct {
	Question string       `json:"question"`
	Answer   string       `json:"answer"`
	Sources  []rag.Source `json:"sources"`
}

type documentResponse struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	UploadedAt time.Time `json:"uploaded_at"`
	Processed  bool      `json:"processed"`
	ChunkCount int       `json:"chunk_count"`
}

func toDocumentResponse(d store.Document) documentResponse {
	return documentResponse{
		ID:         d.ID,
		Title:      d.Title,
		UploadedAt: d.UploadedAt,
		Processed:  d.Processed,
		ChunkCount: d.ChunkCount,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || len(req.Password) < 8 {
		s.respondError(w, http.StatusBadRequest, "email and a password of at least 8 characters are required")
		return
	}

	hash, err := s.auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("Password hashing failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	userID, err := s.store.CreateUser(r.Context(), req.Email, hash)
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			s.respondError(w, http.StatusConflict, "email already registered")
			return
		}
		s.logger.Error("User creation failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	token, err := s.auth.GenerateToken(userID, req.Email)
	if err != nil {
		s.logger.Error("Token generation failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	s.respondJSON(w, http.StatusCreated, tokenResponse{Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		s.auth.VerifyPassword(req.Password, dummyPasswordHash)
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if !s.auth.VerifyPassword(req.Password, user.PasswordHash) {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.auth.GenerateToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("Token generation failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "login failed")
		return
	}
	s.respondJSON(w, http.StatusOK, tokenResponse{Token: token})
}

// handleUploadDocument accepts a multipart upload, validates extension
// and size before the engine ever sees the file, stores it under the
// user's directory, records it, and runs the ingestion pipeline.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	maxBytes := int64(s.config.Engine.MaxUploadMiB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+4096) // headroom for multipart framing

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		s.respondError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload size limit")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtension(ext) {
		s.respondError(w, http.StatusBadRequest, "unsupported file type; allowed: .pdf, .docx, .txt")
		return
	}
	if header.Size > maxBytes {
		s.respondError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload size limit")
		return
	}

	engine, uploadDir := s.engines(claims.UserID)

	dest, destPath, err := createUploadFile(uploadDir, filename)
	if err != nil {
		s.logger.Error("Failed to store upload", "dir", uploadDir, "error", err)
		s.respondError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	if _, err := io.Copy(dest, file); err != nil {
		dest.Close()
		os.Remove(destPath)
		s.logger.Error("Failed to write upload", "path", destPath, "error", err)
		s.respondError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	dest.Close()

	docID, err := s.store.CreateDocument(r.Context(), claims.UserID, filename, destPath)
	if err != nil {
		os.Remove(destPath)
		s.logger.Error("Failed to record document", "error", err)
		s.respondError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	chunkCount := engine.ProcessDocument(r.Context(), destPath, docID)
	if chunkCount > 0 {
		if err := s.store.MarkProcessed(r.Context(), docID, chunkCount); err != nil {
			s.logger.Error("Failed to mark document processed", "doc_id", docID, "error", err)
		}
	}

	doc, err := s.store.GetDocument(r.Context(), claims.UserID, docID)
	if err != nil {
		s.logger.Error("Failed to read back document", "doc_id", docID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	s.respondJSON(w, http.StatusCreated, toDocumentResponse(*doc))
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	docs, err := s.store.ListDocuments(r.Context(), claims.UserID)
	if err != nil {
		s.logger.Error("Failed to list documents", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}

	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d))
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	docID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	doc, err := s.store.GetDocument(r.Context(), claims.UserID, docID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.logger.Error("Failed to load document", "doc_id", docID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "deletion failed")
		return
	}

	engine, _ := s.engines(claims.UserID)
	if !engine.DeleteDocument(r.Context(), docID) {
		s.respondError(w, http.StatusInternalServerError, "deletion failed")
		return
	}

	if err := s.store.DeleteDocument(r.Context(), claims.UserID, docID); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("Failed to delete document record", "doc_id", docID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "deletion failed")
		return
	}
	if err := os.Remove(doc.Path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Failed to remove uploaded file", "path", doc.Path, "error", err)
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		s.respondError(w, http.StatusBadRequest, "question is required")
		return
	}

	engine, _ := s.engines(claims.UserID)
	answer := engine.Query(r.Context(), req.Question)

	if err := s.store.AppendChat(r.Context(), claims.UserID, req.Question, answer.Answer); err != nil {
		// The answer is still returned; transcript persistence is best effort.
		s.logger.Error("Failed to persist transcript", "error", err)
	}

	s.respondJSON(w, http.StatusOK, chatResponse{
		Question: req.Question,
		Answer:   answer.Answer,
		Sources:  answer.Sources,
	})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	msgs, err := s.store.ListChatHistory(r.Context(), claims.UserID, limit)
	if err != nil {
		s.logger.Error("Failed to list chat history", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list chat history")
		return
	}
	if msgs == nil {
		msgs = []store.ChatMessage{}
	}
	s.respondJSON(w, http.StatusOK, msgs)
}

// handleClearData wipes the user's vector collection, upload directory,
// document records, and transcript.
func (s *Server) handleClearData(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	engine, _ := s.engines(claims.UserID)
	ok := engine.ClearAll(r.Context())

	if err := s.store.DeleteAllDocuments(r.Context(), claims.UserID); err != nil {
		s.logger.Error("Failed to delete document records", "error", err)
		ok = false
	}
	if err := s.store.DeleteAllChat(r.Context(), claims.UserID); err != nil {
		s.logger.Error("Failed to delete chat history", "error", err)
		ok = false
	}

	if !ok {
		s.respondError(w, http.StatusInternalServerError, "failed to clear all data")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// createUploadFile opens a fresh file in dir for the given upload name.
// Colliding names get a counter suffix before the extension
// (notes.txt, notes_1.txt, ...) so repeated uploads never share a path.
// O_EXCL makes the claim atomic against concurrent uploads.
func createUploadFile(dir, filename string) (*os.File, string, error) {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	name := filename
	for n := 1; ; n++ {
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			return f, path, nil
		}
		if !os.IsExist(err) {
			return nil, "", err
		}
		name = fmt.Sprintf("%s_%d%s", stem, n, ext)
	}
}

func allowedExtension(ext string) bool {
	for _, allowed := range loader.SupportedExtensions() {
		if ext == allowed {
			return true
		}
	}
	return false
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
