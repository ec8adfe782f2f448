package util

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// IncrementPath returns a run directory path that does not collide with an existing one.
//
// When path exists and existOK is false, a numeric suffix one above the highest existing sibling
// is appended: runs/exp, runs/exp2, runs/exp3, ...
//
// Arguments:
// - path: The preferred path.
// - existOK: Reuse path even if it exists.
//
// Returns:
// - string: The path to use.
// - error: If the parent directory cannot be inspected.
func IncrementPath(path string, existOK bool) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) || existOK {
		return path, nil
	}

	matches, err := filepath.Glob(globEscape(path) + "*")
	if err != nil {
		return "", errors.Wrapf(err, "failed to list siblings of %s", path)
	}

	suffix := regexp.MustCompile(`^` + regexp.QuoteMeta(filepath.Base(path)) + `(\d+)$`)
	next := 2
	for _, m := range matches {
		sub := suffix.FindStringSubmatch(filepath.Base(m))
		if sub == nil {
			continue
		}
		if n, err := strconv.Atoi(sub[1]); err == nil && n+1 > next {
			next = n + 1
		}
	}

	return path + strconv.Itoa(next), nil
}

var globMeta = regexp.MustCompile(`[*?\[\\]`)

func globEscape(s string) string {
	return globMeta.ReplaceAllString(s, `\$0`)
}
