package migration

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MaxPortableSizeBytes caps the portable archive at 4 GiB.
const MaxPortableSizeBytes = int64(4) << 30

// Snapshot error and verification-failure codes.
const (
	CodeSizeExceeded        = "SNAPSHOT_PORTABLE_SIZE_EXCEEDED"
	FailureChecksumMismatch = "CHECKSUM_MISMATCH"
	FailureSizeMismatch     = "SIZE_MISMATCH"
	FailureArchiveCorrupt   = "ARCHIVE_CORRUPT"
	FailureBaseVersion      = "BASE_VERSION_MISMATCH"
	FailureDiskFull         = "DISK_FULL"
)

// Snapshot describes one captured home directory.
type Snapshot struct {
	ArchivePath string     `json:"archivePath"`
	Checksum    string     `json:"checksum"`
	SizeBytes   int64      `json:"sizeBytes"`
	WorkState   *WorkState `json:"workState,omitempty"`
}

// SizeExceededError marks an archive over the portable cap.
type SizeExceededError struct {
	SizeBytes int64
}

func (e *SizeExceededError) Error() string {
	return fmt.Sprintf("%s: archive is %d bytes, cap is %d", CodeSizeExceeded, e.SizeBytes, MaxPortableSizeBytes)
}

// CreateSnapshot archives homePath as tar+gzip under tmpDir, computing
// the SHA-256 while streaming. workRoot may be empty; when set, the git
// work state of its immediate subdirectories is captured alongside.
func CreateSnapshot(homePath, workRoot, migrationID, tmpDir string) (*Snapshot, error) {
	stageDir := filepath.Join(tmpDir, migrationID)
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	archivePath := filepath.Join(stageDir, migrationID+".tar.gz")

	size, checksum, err := writeArchive(homePath, archivePath)
	if err != nil {
		return nil, err
	}
	if size > MaxPortableSizeBytes {
		os.Remove(archivePath)
		return nil, &SizeExceededError{SizeBytes: size}
	}

	snap := &Snapshot{ArchivePath: archivePath, Checksum: checksum, SizeBytes: size}
	if workRoot != "" {
		ws, err := CaptureWorkState(workRoot)
		if err != nil {
			return nil, fmt.Errorf("capture work state: %w", err)
		}
		snap.WorkState = ws
	}
	return snap, nil
}

// writeArchive streams homePath into a tar.gz file, hashing the
// compressed bytes on the way out.
func writeArchive(homePath, archivePath string) (int64, string, error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return 0, "", fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	hasher := sha256.New()
	counter := &countingWriter{}
	gz := gzip.NewWriter(io.MultiWriter(out, hasher, counter))
	tw := tar.NewWriter(gz)

	walkErr := filepath.WalkDir(homePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(homePath, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr != nil {
		return 0, "", fmt.Errorf("archive %s: %w", homePath, walkErr)
	}
	if err := tw.Close(); err != nil {
		return 0, "", fmt.Errorf("finalize tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, "", fmt.Errorf("finalize gzip: %w", err)
	}
	return counter.n, hex.EncodeToString(hasher.Sum(nil)), nil
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

// ComputeSha256 streams a file through SHA-256.
func ComputeSha256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerificationResult is the outcome of snapshot verification.
type VerificationResult struct {
	Verified         bool      `json:"verified"`
	FailureReason    string    `json:"failureReason,omitempty"`
	ComputedChecksum string    `json:"computedChecksum,omitempty"`
	VerifiedAt       time.Time `json:"verifiedAt"`
}

// VerifySnapshot recomputes the archive checksum and probes the archive
// structure. Missing files, malformed archives, and stream failures all
// report ARCHIVE_CORRUPT.
func VerifySnapshot(archivePath, expectedChecksum string) VerificationResult {
	now := time.Now().UTC()
	computed, err := ComputeSha256(archivePath)
	if err != nil {
		return VerificationResult{FailureReason: FailureArchiveCorrupt, VerifiedAt: now}
	}
	if !strings.EqualFold(computed, expectedChecksum) {
		return VerificationResult{FailureReason: FailureChecksumMismatch, ComputedChecksum: computed, VerifiedAt: now}
	}
	if err := probeArchive(archivePath); err != nil {
		return VerificationResult{FailureReason: FailureArchiveCorrupt, ComputedChecksum: computed, VerifiedAt: now}
	}
	return VerificationResult{Verified: true, ComputedChecksum: computed, VerifiedAt: now}
}

// probeArchive walks all entries without extracting.
func probeArchive(archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		_, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := io.Copy(io.Discard, tr); err != nil {
			return err
		}
	}
}
