package types

// Browse sources. Folders may only be created or deleted on the destination.
const (
	SourceRoot      = "source"
	DestinationRoot = "destination"
)

// FileItem represents one entry of a directory listing
type FileItem struct {
	Name          string  `json:"name"`
	Path          string  `json:"path"` // relative to the browsed root
	IsDirectory   bool    `json:"is_directory"`
	Size          int64   `json:"size"`
	SizeFormatted string  `json:"size_formatted"`
	Modified      float64 `json:"modified"` // unix seconds
}

// BrowseResponse represents one page of a directory listing
type BrowseResponse struct {
	Items   []FileItem `json:"items"`
	Total   int        `json:"total"`
	HasMore bool       `json:"has_more"`
}

// FolderInfo represents summary information about a folder
type FolderInfo struct {
	Path          string `json:"path"`
	Size          int64  `json:"size"`
	SizeFormatted string `json:"size_formatted"`
	Exists        bool   `json:"exists"`
	ItemCount     int    `json:"item_count"`
}

// CreateFolderResponse is returned after a folder was created
type CreateFolderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

// MessageResponse is the generic acknowledgement body
type MessageResponse struct {
	Success bool   `json:"success,omitempty"`
	Message string `json:"message"`
}

// LibraryItem represents an enriched media entry offered for copying
type LibraryItem struct {
	ID        int64   `json:"id"`
	Title     string  `json:"title"`
	Year      int     `json:"year,omitempty"`
	MediaType string  `json:"media_type,omitempty"`
	Rating    float64 `json:"rating,omitempty"`
	FullPath  string  `json:"full_path"`
	PosterURL string  `json:"poster_url,omitempty"`
}

// LibraryPage is one page of library items
type LibraryPage struct {
	Items   []LibraryItem `json:"items"`
	Total   int           `json:"total"`
	HasMore bool          `json:"has_more"`
}
