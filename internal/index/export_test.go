package index

import "github.com/qualityhub/issueflow/internal/storage"

// withWriter replaces the document writer of an Index.
func withWriter(write func(idx *Index, records []*storage.IssueRecord) error) Option {
	return func(idx *Index) {
		idx.write = func(records []*storage.IssueRecord) error { return write(idx, records) }
	}
}
