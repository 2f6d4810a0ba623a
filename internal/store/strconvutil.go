package store

import "strconv"

func parseInt(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
