package storage

import "strings"

// LikePrefix escapes prefix for a LIKE ... ESCAPE '\' clause and appends the
// trailing wildcard.
func LikePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
