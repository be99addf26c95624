// Package upload stores uploaded files under a fixed set of category
// directories and lists what each directory holds.
package upload

import "errors"

// Category pairs a display label with the directory files are stored in.
type Category struct {
	Label     string
	Directory string
}

var categories = []Category{
	{Label: "Image", Directory: "images"},
	{Label: "Document", Directory: "documents"},
	{Label: "Audio", Directory: "audio"},
	{Label: "Video", Directory: "video"},
}

var (
	ErrUnknownCategory = errors.New("unknown upload category")
	ErrInvalidFilename = errors.New("invalid filename")
	ErrExists          = errors.New("file already exists")
)

// Categories returns the closed category set in display order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// Lookup finds the category stored under directory.
func Lookup(directory string) (Category, error) {
	for _, c := range categories {
		if c.Directory == directory {
			return c, nil
		}
	}
	return Category{}, ErrUnknownCategory
}
