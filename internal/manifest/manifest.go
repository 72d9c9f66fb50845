// Package manifest reads YAML files listing books and chapters to pre-fetch,
// and turns them into queue descriptors in file order.
package manifest

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/any-hub/audiohub/internal/model"
)

// Chapter 是清单中的单个章节。
type Chapter struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
}

// Book 描述一本书及其需要离线的章节。
type Book struct {
	BookID   string    `yaml:"book_id"`
	Title    string    `yaml:"title"`
	CoverURL string    `yaml:"cover_url"`
	Chapters []Chapter `yaml:"chapters"`
}

// Manifest 是清单文件的顶层结构。
type Manifest struct {
	Books []Book `yaml:"books"`
}

// Load 读取并校验清单文件。
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read manifest: %s", path)
	}
	return Parse(data)
}

// Parse 解析清单内容，章节 ID 在整个清单内必须唯一。
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "failed to parse manifest")
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if len(m.Books) == 0 {
		return errors.New("manifest contains no books")
	}
	seen := make(map[string]string)
	for i, book := range m.Books {
		if strings.TrimSpace(book.BookID) == "" {
			return fmt.Errorf("books[%d]: book_id required", i)
		}
		for j, chapter := range book.Chapters {
			id := strings.TrimSpace(chapter.ID)
			if id == "" {
				return fmt.Errorf("books[%d].chapters[%d]: id required", i, j)
			}
			if owner, ok := seen[id]; ok {
				return fmt.Errorf("books[%d].chapters[%d]: duplicate chapter id %s (already in book %s)", i, j, id, owner)
			}
			seen[id] = book.BookID
		}
	}
	return nil
}

// Descriptors 按文件顺序展开所有章节，章节未写标题时使用书名。
func (m *Manifest) Descriptors() []model.Descriptor {
	var out []model.Descriptor
	for _, book := range m.Books {
		for _, chapter := range book.Chapters {
			title := chapter.Title
			if title == "" {
				title = book.Title
			}
			out = append(out, model.Descriptor{
				BookID:    strings.TrimSpace(book.BookID),
				ChapterID: strings.TrimSpace(chapter.ID),
				Title:     title,
				CoverURL:  book.CoverURL,
			})
		}
	}
	return out
}
