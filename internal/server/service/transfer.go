package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"mime"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"courier/internal/server/config"
	"courier/internal/server/database"
	"courier/internal/server/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Sentinel errors for the service layer.
var (
	ErrNotFound       = errors.New("transfer not found")
	ErrExpired        = errors.New("transfer has expired")
	ErrForbidden      = errors.New("invalid access code")
	ErrQuotaExhausted = errors.New("download limit reached")
	ErrEmptyBatch     = errors.New("no files in upload batch")
	ErrTotalTooLarge  = errors.New("batch exceeds total size limit")
	ErrFileTooLarge   = errors.New("file exceeds maximum allowed size")
)

const (
	transferIDLength = 16
	accessCodeLength = 6

	// Lower-case base32-style alphabet keeps IDs unambiguous in URLs.
	idCharset = "abcdefghijklmnopqrstuvwxyz234567"
	// No 0/O/1/I: access codes are typed by hand.
	codeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// TransferRepo is the slice of the record store the service depends on.
// *database.Repository satisfies it; tests substitute an in-memory
// implementation with the same conditional-increment contract.
type TransferRepo interface {
	Create(ctx context.Context, t *database.Transfer) error
	GetByID(ctx context.Context, id string) (*database.Transfer, error)
	IncrementDownloads(ctx context.Context, id string) (int, error)
	Delete(ctx context.Context, id string) (bool, error)
	GetStats(ctx context.Context) (*database.Stats, error)
}

// UploadFile is one file in an incoming batch.
type UploadFile struct {
	Name        string
	ContentType string
	Data        io.Reader
}

// CreateOptions carries the form options of an upload.
type CreateOptions struct {
	ExpiryDays  int
	RequireCode bool
	OwnerEmail  string
}

// FileInfo is the public per-file summary returned after upload.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// CreateResult is returned after a successful upload.
type CreateResult struct {
	DownloadID  string     `json:"downloadId"`
	AccessCode  *string    `json:"accessCode"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	DownloadURL string     `json:"downloadUrl"`
	Files       []FileInfo `json:"files"`
	TotalSize   int64      `json:"totalSize"`
}

// FileListing is one file in a verified listing. It exposes download URLs,
// never the internal storage location.
type FileListing struct {
	Name           string `json:"name"`
	Size           int64  `json:"size"`
	Type           string `json:"type"`
	DownloadURL    string `json:"downloadUrl"`
	DirectDownload string `json:"directDownload"`
}

// VerifyResult is returned once the access code has been checked.
type VerifyResult struct {
	Files              []FileListing `json:"files"`
	ExpiresAt          time.Time     `json:"expiresAt"`
	RemainingDownloads int           `json:"remainingDownloads"`
	TotalSize          int64         `json:"totalSize"`
	FileCount          int           `json:"fileCount"`
}

// Summary is the public, code-free view of a transfer.
type Summary struct {
	ExpiresAt    time.Time `json:"expiresAt"`
	Downloads    int       `json:"downloads"`
	MaxDownloads int       `json:"maxDownloads"`
	FileCount    int       `json:"fileCount"`
	TotalSize    int64     `json:"totalSize"`
	Uploader     *string   `json:"uploader"`
}

// FileStream is an open single-file download.
type FileStream struct {
	Content     io.ReadSeekCloser
	Name        string // original display name, used for the disposition
	ContentType string
	Size        int64
	ModTime     time.Time
}

// TransferService contains the business logic for transfers: ingestion,
// verification, download accounting, and purging.
type TransferService struct {
	repo  TransferRepo
	store storage.Store
	cfg   *config.Config
}

// NewTransferService creates a new transfer service.
func NewTransferService(repo TransferRepo, store storage.Store, cfg *config.Config) *TransferService {
	return &TransferService{
		repo:  repo,
		store: store,
		cfg:   cfg,
	}
}

// CreateTransfer stages the batch into content storage, validates it, and
// persists the transfer record. On any failure every byte staged by this
// call is purged before returning.
func (s *TransferService) CreateTransfer(ctx context.Context, files []UploadFile, opts CreateOptions) (*CreateResult, error) {
	if len(files) == 0 {
		return nil, ErrEmptyBatch
	}

	expiryDays := opts.ExpiryDays
	if expiryDays < 1 {
		expiryDays = s.cfg.DefaultExpiryDays
	}

	now := time.Now().UTC()
	var entries []database.FileEntry
	var totalSize int64

	purgeStaged := func() {
		for _, e := range entries {
			if err := s.store.Delete(ctx, e.StoredName); err != nil {
				slog.Error("failed to purge staged file", "stored_name", e.StoredName, "error", err)
			}
		}
	}

	for i, f := range files {
		storedName := mintStoredName(f.Name)

		size, err := s.store.Save(ctx, storedName, f.Data)
		if err != nil {
			purgeStaged()
			if errors.Is(err, storage.ErrTooLarge) {
				return nil, ErrFileTooLarge
			}
			return nil, fmt.Errorf("failed to stage %s: %w", f.Name, err)
		}

		entries = append(entries, database.FileEntry{
			StoredName:  storedName,
			DisplayName: sanitizeFilename(f.Name),
			Size:        size,
			ContentType: normalizeContentType(f.ContentType, f.Name),
			Position:    i,
			UploadedAt:  now,
		})
		totalSize += size

		if totalSize > s.cfg.MaxTotalSize {
			purgeStaged()
			return nil, ErrTotalTooLarge
		}
	}

	id, err := randomString(transferIDLength, idCharset)
	if err != nil {
		purgeStaged()
		return nil, fmt.Errorf("failed to generate transfer ID: %w", err)
	}

	var accessCode *string
	var accessCodeHash *string
	if opts.RequireCode {
		code, err := randomString(accessCodeLength, codeCharset)
		if err != nil {
			purgeStaged()
			return nil, fmt.Errorf("failed to generate access code: %w", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			purgeStaged()
			return nil, fmt.Errorf("failed to hash access code: %w", err)
		}
		h := string(hash)
		accessCode = &code
		accessCodeHash = &h
	}

	var ownerEmail *string
	if opts.OwnerEmail != "" {
		e := opts.OwnerEmail
		ownerEmail = &e
	}

	for i := range entries {
		entries[i].TransferID = id
	}

	t := &database.Transfer{
		ID:             id,
		AccessCodeHash: accessCodeHash,
		OwnerEmail:     ownerEmail,
		TotalSize:      totalSize,
		Downloads:      0,
		MaxDownloads:   s.cfg.MaxDownloads,
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Duration(expiryDays) * 24 * time.Hour),
		Files:          entries,
	}

	if err := s.repo.Create(ctx, t); err != nil {
		purgeStaged()
		return nil, fmt.Errorf("failed to create transfer record: %w", err)
	}

	slog.Info("transfer created",
		"id", id,
		"files", len(entries),
		"total_size", totalSize,
		"expires_at", t.ExpiresAt,
		"code_required", opts.RequireCode,
	)

	infos := make([]FileInfo, len(entries))
	for i, e := range entries {
		infos[i] = FileInfo{Name: e.DisplayName, Size: e.Size, Type: e.ContentType}
	}

	return &CreateResult{
		DownloadID:  id,
		AccessCode:  accessCode,
		ExpiresAt:   t.ExpiresAt,
		DownloadURL: fmt.Sprintf("%s/transfer/%s", s.cfg.BaseURL, id),
		Files:       infos,
		TotalSize:   totalSize,
	}, nil
}

// authorize is the shared precondition of every read path:
// lookup, then expiry (with lazy purge), then access code. Expiry always
// wins over a code mismatch.
func (s *TransferService) authorize(ctx context.Context, id, code string) (*database.Transfer, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrTransferNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !time.Now().Before(t.ExpiresAt) {
		s.Purge(ctx, t)
		return nil, ErrExpired
	}

	if t.AccessCodeHash != nil {
		if bcrypt.CompareHashAndPassword([]byte(*t.AccessCodeHash), []byte(code)) != nil {
			return nil, ErrForbidden
		}
	}

	return t, nil
}

// Verify checks the access code and returns the sanitized file listing.
func (s *TransferService) Verify(ctx context.Context, id, code string) (*VerifyResult, error) {
	t, err := s.authorize(ctx, id, code)
	if err != nil {
		return nil, err
	}

	listings := make([]FileListing, len(t.Files))
	for i, f := range t.Files {
		downloadURL := fmt.Sprintf("%s/download/%s/%s", s.cfg.BaseURL, t.ID, f.StoredName)
		direct := downloadURL
		if t.AccessCodeHash != nil {
			direct = downloadURL + "?code=" + url.QueryEscape(code)
		}
		listings[i] = FileListing{
			Name:           f.DisplayName,
			Size:           f.Size,
			Type:           f.ContentType,
			DownloadURL:    downloadURL,
			DirectDownload: direct,
		}
	}

	return &VerifyResult{
		Files:              listings,
		ExpiresAt:          t.ExpiresAt,
		RemainingDownloads: t.MaxDownloads - t.Downloads,
		TotalSize:          t.TotalSize,
		FileCount:          len(t.Files),
	}, nil
}

// GetSummary returns the public summary of a transfer. No access code is
// required; the listing itself stays behind the code.
func (s *TransferService) GetSummary(ctx context.Context, id string) (*Summary, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrTransferNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !time.Now().Before(t.ExpiresAt) {
		s.Purge(ctx, t)
		return nil, ErrExpired
	}

	return &Summary{
		ExpiresAt:    t.ExpiresAt,
		Downloads:    t.Downloads,
		MaxDownloads: t.MaxDownloads,
		FileCount:    len(t.Files),
		TotalSize:    t.TotalSize,
		Uploader:     t.OwnerEmail,
	}, nil
}

// OpenFile authorizes the request and opens one file of the transfer for
// streaming. The caller must close the stream and report completion via
// FinishDownload.
func (s *TransferService) OpenFile(ctx context.Context, id, storedName, code string) (*database.Transfer, *FileStream, error) {
	t, err := s.authorize(ctx, id, code)
	if err != nil {
		return nil, nil, err
	}

	var entry *database.FileEntry
	for i := range t.Files {
		if t.Files[i].StoredName == storedName {
			entry = &t.Files[i]
			break
		}
	}
	if entry == nil {
		return nil, nil, ErrNotFound
	}

	content, size, err := s.store.Open(ctx, entry.StoredName)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: bytes missing from storage", ErrNotFound)
		}
		return nil, nil, err
	}

	return t, &FileStream{
		Content:     content,
		Name:        entry.DisplayName,
		ContentType: entry.ContentType,
		Size:        size,
		ModTime:     entry.UploadedAt,
	}, nil
}

// FinishDownload advances the download counter for a completed stream and
// purges the transfer when the counter first reaches the quota. The
// conditional increment in the store makes the purge decision land on
// exactly one caller even under concurrency.
func (s *TransferService) FinishDownload(ctx context.Context, t *database.Transfer) {
	n, err := s.repo.IncrementDownloads(ctx, t.ID)
	if err != nil {
		// The record may already be gone (racing purge) or the quota
		// already spent by a concurrent winner; neither needs handling here.
		if !errors.Is(err, database.ErrTransferNotFound) && !errors.Is(err, database.ErrQuotaSpent) {
			slog.Error("failed to increment downloads", "id", t.ID, "error", err)
		}
		return
	}

	slog.Info("download completed", "id", t.ID, "downloads", n, "max_downloads", t.MaxDownloads)

	if n >= t.MaxDownloads {
		s.Purge(ctx, t)
	}
}

// Purge removes a transfer's file bytes and record. Every step is
// idempotent and best-effort, so concurrent purges (sweep, lazy expiry,
// quota) can overlap without error.
func (s *TransferService) Purge(ctx context.Context, t *database.Transfer) {
	for _, f := range t.Files {
		if err := s.store.Delete(ctx, f.StoredName); err != nil {
			slog.Error("failed to delete file bytes",
				"transfer_id", t.ID,
				"stored_name", f.StoredName,
				"error", err,
			)
		}
	}

	existed, err := s.repo.Delete(ctx, t.ID)
	if err != nil {
		slog.Error("failed to delete transfer record", "transfer_id", t.ID, "error", err)
		return
	}
	if existed {
		slog.Info("transfer purged", "transfer_id", t.ID, "files", len(t.Files))
	}
}

// GetStats returns aggregate server statistics.
func (s *TransferService) GetStats(ctx context.Context) (*database.Stats, error) {
	return s.repo.GetStats(ctx)
}

// --- Helpers ---

// randomString produces a cryptographically secure string over charset.
func randomString(length int, charset string) (string, error) {
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}

// mintStoredName generates a storage-safe object name, keeping the file
// extension as a content hint.
func mintStoredName(displayName string) string {
	ext := strings.ToLower(filepath.Ext(sanitizeFilename(displayName)))
	if len(ext) > 16 {
		ext = ""
	}
	return uuid.NewString() + ext
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes before filepath.Base, which is
	// platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	if len(name) > 255 {
		ext := filepath.Ext(name)
		if len(ext) >= 255 {
			// The extension alone blows the limit (dotfile-style names);
			// keeping it would leave no room for the stem.
			name = name[:255]
		} else {
			name = name[:255-len(ext)] + ext
		}
	}

	if name == "" || name == "." {
		name = "file"
	}

	return name
}

// normalizeContentType falls back to an extension-based guess, then to
// application/octet-stream.
func normalizeContentType(declared, filename string) string {
	if declared != "" {
		return declared
	}
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}
