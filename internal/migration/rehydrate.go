package migration

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Portable describes the transferable archive of a home directory.
type Portable struct {
	Archive   string `json:"archive"`
	Checksum  string `json:"checksum"`
	SizeBytes int64  `json:"sizeBytes"`
}

// Payload is the full migration payload handed to the target side.
// AgentIdentity is empty in central mode.
type Payload struct {
	Portable      Portable   `json:"portable"`
	AgentIdentity string     `json:"agentIdentity,omitempty"`
	WorkState     *WorkState `json:"workState,omitempty"`
}

// RehydrateResult is the outcome of rebuilding an agent home on the
// target node. Success with warnings is possible: projects whose paths
// escape the work root are skipped, not fatal.
type RehydrateResult struct {
	Success     bool      `json:"success"`
	HomePath    string    `json:"homePath"`
	Error       string    `json:"error,omitempty"`
	Warnings    []string  `json:"warnings,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

// Rehydrate verifies the archive, extracts it to targetHomePath, and
// restores each work-state project under targetWorkPath.
func Rehydrate(ctx context.Context, payload Payload, targetHomePath, targetWorkPath string) RehydrateResult {
	result := RehydrateResult{HomePath: targetHomePath}
	fail := func(format string, args ...any) RehydrateResult {
		result.Error = fmt.Sprintf(format, args...)
		result.CompletedAt = time.Now().UTC()
		return result
	}

	verification := VerifySnapshot(payload.Portable.Archive, payload.Portable.Checksum)
	if !verification.Verified {
		return fail("verification failed: %s", verification.FailureReason)
	}

	if err := os.MkdirAll(targetHomePath, 0755); err != nil {
		return fail("create target home: %v", err)
	}
	if err := extractArchive(payload.Portable.Archive, targetHomePath); err != nil {
		return fail("extract archive: %v", err)
	}

	if payload.WorkState != nil {
		for _, project := range payload.WorkState.Projects {
			dest, err := resolveWithin(targetWorkPath, project.RelativePath)
			if err != nil {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("Path traversal detected for project %q: skipped", project.RelativePath))
				continue
			}
			if err := RestoreProject(ctx, project, dest); err != nil {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("project %q restore failed: %v", project.RelativePath, err))
			}
		}
	}

	result.Success = true
	result.CompletedAt = time.Now().UTC()
	return result
}

// resolveWithin joins rel under root and rejects any result whose
// canonical form escapes root. Symlinks in root and in any existing
// parent of the result are resolved before the check, so a pre-existing
// link inside root cannot redirect the write outside it.
func resolveWithin(root, rel string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = resolved
	}
	cleaned := filepath.Clean(filepath.Join(absRoot, rel))
	if cleaned != absRoot && !strings.HasPrefix(cleaned, absRoot+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q escapes %q", rel, root)
	}
	if resolved, err := filepath.EvalSymlinks(filepath.Dir(cleaned)); err == nil {
		if resolved != absRoot && !strings.HasPrefix(resolved, absRoot+string(os.PathSeparator)) {
			return "", fmt.Errorf("path %q escapes %q through a symlink", rel, root)
		}
	}
	return cleaned, nil
}

// extractArchive unpacks a tar.gz into destDir. Entry names are resolved
// through the same escape check as work-state paths.
func extractArchive(archivePath, destDir string) error {
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
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		dest, err := resolveWithin(destDir, hdr.Name)
		if err != nil {
			// Hostile entry name; skip it rather than abort the whole home.
			continue
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
}
