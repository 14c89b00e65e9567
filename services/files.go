package services

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"copycat/types"
)

// dirSizeLabel is shown instead of a size for directories
const dirSizeLabel = "-"

var folderNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._\-\s]+$`)

// Roots are the two trees the server exposes. Source is read only.
type Roots struct {
	Source      string
	Destination string
}

// ListOptions selects the order and the page of a listing. Limit 0 means
// no limit.
type ListOptions struct {
	Limit  int
	Offset int
	SortBy string // name, size or modified (default)
	Order  string // asc or desc (default)
}

// FileService interface defines methods for browsing and editing the roots
type FileService interface {
	Roots() Roots
	Resolve(source, rel string) (string, error)
	Rel(source, abs string) (string, error)
	List(source, rel string, opts ListOptions) (*types.BrowseResponse, error)
	FolderInfo(source, rel string, calculateSize bool) (*types.FolderInfo, error)
	CreateFolder(source, rel, name string) (*types.CreateFolderResponse, error)
	Delete(source, rel string) error
}

// fileService implements the FileService interface
type fileService struct {
	roots Roots
}

// NewFileService creates a new file service. Both roots are made absolute.
func NewFileService(roots Roots) (FileService, error) {
	src, err := filepath.Abs(roots.Source)
	if err != nil {
		return nil, fmt.Errorf("source root: %w", err)
	}
	dst, err := filepath.Abs(roots.Destination)
	if err != nil {
		return nil, fmt.Errorf("destination root: %w", err)
	}
	return &fileService{roots: Roots{Source: src, Destination: dst}}, nil
}

func (fs *fileService) Roots() Roots {
	return fs.roots
}

func (fs *fileService) root(source string) (string, error) {
	switch source {
	case types.SourceRoot:
		return fs.roots.Source, nil
	case types.DestinationRoot:
		return fs.roots.Destination, nil
	}
	return "", fmt.Errorf("%w: unknown source %q", ErrInvalidPath, source)
}

// cleanRel normalizes a client supplied relative path. Leading slashes are
// ignored and any ".." element is rejected.
func cleanRel(rel string) (string, error) {
	rel = strings.TrimLeft(strings.ReplaceAll(rel, `\`, "/"), "/")
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
		}
	}
	rel = path.Clean(rel)
	if rel == "." {
		rel = ""
	}
	return rel, nil
}

// Resolve maps a path relative to one of the roots to an absolute path
// inside that root
func (fs *fileService) Resolve(source, rel string) (string, error) {
	root, err := fs.root(source)
	if err != nil {
		return "", err
	}
	rel, err = cleanRel(rel)
	if err != nil {
		return "", err
	}

	full := filepath.Join(root, filepath.FromSlash(rel))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q is outside the %s root", ErrInvalidPath, rel, source)
	}
	return full, nil
}

// Rel is the inverse of Resolve
func (fs *fileService) Rel(source, abs string) (string, error) {
	root, err := fs.root(source)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q is outside the %s root", ErrInvalidPath, abs, source)
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

// List returns one page of a directory. Folders come first, then files,
// each group ordered by opts. A missing directory lists as empty.
func (fs *fileService) List(source, rel string, opts ListOptions) (*types.BrowseResponse, error) {
	full, err := fs.Resolve(source, rel)
	if err != nil {
		return nil, err
	}
	rel, _ = cleanRel(rel)

	entries, err := os.ReadDir(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || isNotDir(full) {
			return &types.BrowseResponse{Items: []types.FileItem{}}, nil
		}
		return nil, fmt.Errorf("read %s: %w", full, err)
	}

	var folders, files []types.FileItem
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			slog.Debug("skipping unreadable entry", "path", filepath.Join(full, entry.Name()), "error", err)
			continue
		}

		item := types.FileItem{
			Name:        entry.Name(),
			Path:        path.Join(rel, entry.Name()),
			IsDirectory: info.IsDir(),
			Modified:    float64(info.ModTime().UnixNano()) / 1e9,
		}
		if item.IsDirectory {
			item.SizeFormatted = dirSizeLabel
			folders = append(folders, item)
		} else {
			item.Size = info.Size()
			item.SizeFormatted = humanize.IBytes(uint64(item.Size))
			files = append(files, item)
		}
	}

	sortItems(folders, opts)
	sortItems(files, opts)
	all := append(folders, files...)

	total := len(all)
	start := min(max(opts.Offset, 0), total)
	end := total
	if opts.Limit > 0 {
		end = min(start+opts.Limit, total)
	}

	items := make([]types.FileItem, end-start)
	copy(items, all[start:end])

	return &types.BrowseResponse{
		Items:   items,
		Total:   total,
		HasMore: opts.Limit > 0 && opts.Offset+opts.Limit < total,
	}, nil
}

func sortItems(items []types.FileItem, opts ListOptions) {
	var compare func(a, b types.FileItem) int
	switch opts.SortBy {
	case "name":
		compare = func(a, b types.FileItem) int {
			return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		}
	case "size":
		compare = func(a, b types.FileItem) int { return cmp.Compare(a.Size, b.Size) }
	default:
		compare = func(a, b types.FileItem) int { return cmp.Compare(a.Modified, b.Modified) }
	}

	if opts.Order == "asc" {
		slices.SortStableFunc(items, compare)
		return
	}
	slices.SortStableFunc(items, func(a, b types.FileItem) int { return compare(b, a) })
}

func isNotDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// FolderInfo summarizes a directory. The recursive size is only computed
// when asked for.
func (fs *fileService) FolderInfo(source, rel string, calculateSize bool) (*types.FolderInfo, error) {
	full, err := fs.Resolve(source, rel)
	if err != nil {
		return nil, err
	}
	rel, _ = cleanRel(rel)

	info, err := os.Stat(full)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}

	count := 0
	if entries, err := os.ReadDir(full); err == nil {
		count = len(entries)
	}

	out := &types.FolderInfo{
		Path:      rel,
		Exists:    true,
		ItemCount: count,
	}
	if calculateSize {
		out.Size = TreeSize(full)
		out.SizeFormatted = humanize.IBytes(uint64(out.Size))
	} else {
		out.SizeFormatted = fmt.Sprintf("%d items", count)
	}
	return out, nil
}

// TreeSize is the total size of the regular files at or below p. Entries
// that cannot be read are skipped.
func TreeSize(p string) int64 {
	var total int64
	filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}

// CreateFolder makes the directory name inside rel on the destination root
func (fs *fileService) CreateFolder(source, rel, name string) (*types.CreateFolderResponse, error) {
	if source != types.DestinationRoot {
		return nil, fmt.Errorf("%w: can only create folders in the destination", ErrReadOnly)
	}
	if !folderNamePattern.MatchString(name) || strings.Contains(name, "..") || strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	parent, err := fs.Resolve(source, rel)
	if err != nil {
		return nil, err
	}
	full := filepath.Join(parent, name)
	if _, err := os.Stat(full); err == nil {
		return nil, fmt.Errorf("%w: folder %q", ErrExists, name)
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return nil, fmt.Errorf("create folder: %w", err)
	}

	relPath, _ := fs.Rel(source, full)
	slog.Info("folder created", "path", full)
	return &types.CreateFolderResponse{
		Success: true,
		Message: fmt.Sprintf("Folder '%s' created successfully", name),
		Path:    relPath,
	}, nil
}

// Delete removes a file or a whole tree from the destination root. The
// root itself cannot be deleted.
func (fs *fileService) Delete(source, rel string) error {
	if source != types.DestinationRoot {
		return fmt.Errorf("%w: can only delete from the destination", ErrReadOnly)
	}
	full, err := fs.Resolve(source, rel)
	if err != nil {
		return err
	}
	if full == fs.roots.Destination {
		return fmt.Errorf("%w: refusing to delete the destination root", ErrInvalidPath)
	}
	if _, err := os.Lstat(full); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("delete %s: %w", full, err)
	}

	slog.Info("deleted", "path", full)
	return nil
}
