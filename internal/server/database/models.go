package database

import "time"

// Transfer is one shareable batch of uploaded files. A transfer is created
// once, mutated only through the download counter, and destroyed together
// with its file bytes when it expires or exhausts its download quota.
type Transfer struct {
	ID             string
	AccessCodeHash *string // nil when no access code is set
	OwnerEmail     *string
	TotalSize      int64
	Downloads      int
	MaxDownloads   int
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Files          []FileEntry // insertion order, also the archive order
}

// FileEntry is one uploaded file within a transfer. DisplayName is what the
// uploader called it; StoredName is the storage-safe object name the bytes
// live under.
type FileEntry struct {
	TransferID  string
	StoredName  string
	DisplayName string
	Size        int64
	ContentType string
	Position    int
	UploadedAt  time.Time
}

// Stats holds aggregate server statistics.
type Stats struct {
	TotalTransfers  int64
	ActiveTransfers int64
	TotalDownloads  int64
	StorageUsed     int64
}
