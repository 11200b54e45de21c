package pattern

import (
	"knitterd/pkg/kniterr"
	"knitterd/pkg/storage"
)

// Summary describes one stored pattern file for listings. When a file
// does not parse, Valid is false and the pattern metadata is left
// empty; the listing still includes the file so it can be deleted or
// replaced.
type Summary struct {
	FileName    string `json:"file"`
	Size        int64  `json:"size"`
	Modified    int64  `json:"modified"`
	Valid       bool   `json:"valid"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Steps       int    `json:"steps,omitempty"`
}

// Summaries lists the stored pattern files, enriched with metadata
// from the files that parse.
func Summaries(store storage.Store) ([]Summary, error) {
	infos, err := store.List()
	if err != nil {
		return nil, kniterr.StorageFault(err, "list patterns")
	}
	out := make([]Summary, 0, len(infos))
	for _, info := range infos {
		s := Summary{
			FileName: info.Name,
			Size:     info.Size,
			Modified: info.Modified.Unix(),
		}
		if data, err := store.Read(info.Name); err == nil {
			if f, err := Parse(data); err == nil {
				s.Valid = true
				s.Name = f.Name
				s.Description = f.Description
				s.Steps = len(f.Commands)
			}
		}
		out = append(out, s)
	}
	return out, nil
}
