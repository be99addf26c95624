package storage

import (
	"crypto/md5"
	"fmt"
	"time"
)

// Page is a searchable document with a title and a body.
type Page struct {
	ID          int64     `db:"id"`
	Slug        string    `db:"slug"`
	Title       string    `db:"title"`
	Content     string    `db:"content"`
	ContentHash string    `db:"content_hash"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// AbsoluteURL is the canonical link to the page.
func (p *Page) AbsoluteURL() string {
	return "/pages/" + p.Slug + "/"
}

// Hash returns the md5 of title and content, used to skip unchanged pages on sync.
func Hash(title, content string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(title+"\x00"+content)))
}
