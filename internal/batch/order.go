package batch

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortFileNames orders page names the way a reader of tag would, which fixes
// the processing order of a new job. Equal names keep their input order.
func SortFileNames(names []string, tag language.Tag) {
	c := collate.New(tag)
	sort.SliceStable(names, func(i, j int) bool {
		return c.CompareString(names[i], names[j]) < 0
	})
}
