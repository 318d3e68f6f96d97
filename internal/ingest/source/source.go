// Package source defines the Input value adapters probe and parse. The
// driver reads a candidate file fully once and hands the same bytes to
// every adapter's Supports check and to the winning adapter's Parse —
// this keeps "supports" cheap and side-effect-free without requiring each
// adapter to reopen the file.
package source

import (
	"path/filepath"
	"strings"
)

// Input is one candidate file offered to the registry.
type Input struct {
	Path string
	Data []byte
}

// Ext returns the lowercased file extension, including the leading dot.
func (in Input) Ext() string {
	return strings.ToLower(filepath.Ext(in.Path))
}

// TrimmedPrefix returns up to n bytes of Data with leading whitespace
// stripped, used by detection rules that look at "first non-blank bytes".
func (in Input) TrimmedPrefix(n int) []byte {
	data := in.Data
	i := 0
	for i < len(data) && isBlank(data[i]) {
		i++
	}
	data = data[i:]
	if len(data) > n {
		data = data[:n]
	}
	return data
}

func isBlank(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}
