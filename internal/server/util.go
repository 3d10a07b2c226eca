package server

import (
	"path/filepath"
	"strconv"
)

func dirOf(path string) string {
	return filepath.Dir(path)
}

func itoa64(n int64) string {
	return strconv.FormatInt(n, 10)
}
