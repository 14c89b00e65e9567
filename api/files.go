package api

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"copycat/types"
)

// BrowseParams selects one page of a directory listing. Limit 0 returns
// every entry.
type BrowseParams struct {
	Source string
	Path   string
	Limit  int
	Offset int
	SortBy string // name, size or modified
	Order  string // asc or desc
}

func normPath(p string) string {
	return strings.Trim(p, "/")
}

func listingPrefix(source, p string) string {
	return "browse:" + source + ":" + normPath(p) + ":"
}

func folderPrefix(source, p string) string {
	return "folder:" + source + ":" + normPath(p) + ":"
}

func (p BrowseParams) key() string {
	return fmt.Sprintf("%s%d:%d:%s:%s", listingPrefix(p.Source, p.Path), p.Limit, p.Offset, p.SortBy, p.Order)
}

// Browse lists a directory of the source or destination root
func (c *Client) Browse(ctx context.Context, p BrowseParams) (*types.BrowseResponse, error) {
	key := p.key()
	if cached, ok := c.listings.Get(key); ok {
		return cached, nil
	}

	query := map[string]string{
		"source": p.Source,
		"path":   p.Path,
		"offset": strconv.Itoa(p.Offset),
	}
	if p.Limit > 0 {
		query["limit"] = strconv.Itoa(p.Limit)
	}
	if p.SortBy != "" {
		query["sort_by"] = p.SortBy
	}
	if p.Order != "" {
		query["order"] = p.Order
	}

	r, cancel := c.request(ctx, BrowseTimeout)
	defer cancel()

	var out types.BrowseResponse
	resp, err := r.
		SetQueryParams(query).
		SetSuccessResult(&out).
		Get("/api/browse")
	if err := handleAPIError(resp, err, "browse"); err != nil {
		return nil, err
	}

	c.listings.Set(key, &out)
	return &out, nil
}

// FolderInfo returns summary information about a folder. Computing the
// recursive size can be slow on large trees.
func (c *Client) FolderInfo(ctx context.Context, source, p string, calculateSize bool) (*types.FolderInfo, error) {
	key := folderPrefix(source, p) + strconv.FormatBool(calculateSize)
	if cached, ok := c.folders.Get(key); ok {
		return cached, nil
	}

	r, cancel := c.request(ctx, c.timeout)
	defer cancel()

	var out types.FolderInfo
	resp, err := r.
		SetQueryParams(map[string]string{
			"source":         source,
			"path":           p,
			"calculate_size": strconv.FormatBool(calculateSize),
		}).
		SetSuccessResult(&out).
		Get("/api/folder-info")
	if err := handleAPIError(resp, err, "folder info"); err != nil {
		return nil, err
	}

	c.folders.Set(key, &out)
	return &out, nil
}

// CreateFolder creates name inside p. Only the destination root is writable.
func (c *Client) CreateFolder(ctx context.Context, source, p, name string) (*types.CreateFolderResponse, error) {
	r, cancel := c.request(ctx, c.timeout)
	defer cancel()

	var out types.CreateFolderResponse
	resp, err := r.
		SetRetryCount(0).
		SetQueryParams(map[string]string{
			"source":      source,
			"path":        p,
			"folder_name": name,
		}).
		SetSuccessResult(&out).
		Post("/api/create-folder")
	if err := handleAPIError(resp, err, "create folder"); err != nil {
		return nil, err
	}

	c.listings.InvalidatePattern(listingPrefix(source, p))
	c.folders.InvalidatePattern(folderPrefix(source, p))
	return &out, nil
}

// DeleteItem removes a file or folder tree from the destination root
func (c *Client) DeleteItem(ctx context.Context, source, p string) (*types.MessageResponse, error) {
	r, cancel := c.request(ctx, c.timeout)
	defer cancel()

	var out types.MessageResponse
	resp, err := r.
		SetRetryCount(0).
		SetQueryParams(map[string]string{
			"source": source,
			"path":   p,
		}).
		SetSuccessResult(&out).
		Delete("/api/files/delete")
	if err := handleAPIError(resp, err, "delete item"); err != nil {
		return nil, err
	}

	c.invalidateTree(source, p)
	return &out, nil
}

// invalidateTree drops cached data of p, everything below it and its parent
func (c *Client) invalidateTree(source, p string) {
	p = normPath(p)
	parent := path.Dir(p)
	if parent == "." {
		parent = ""
	}

	c.listings.InvalidatePattern(listingPrefix(source, parent))
	c.folders.InvalidatePattern(folderPrefix(source, parent))
	c.listings.InvalidatePattern("browse:" + source + ":" + p)
	c.folders.InvalidatePattern("folder:" + source + ":" + p)
}
