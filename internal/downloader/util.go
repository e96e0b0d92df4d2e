// internal/downloader/util.go
package downloader

import (
	"os"
	"path/filepath"
	"strings"
)

// tailLines 只保留最近 n 行，用于失败时打印 stderr
type tailLines struct {
	n     int
	lines []string
}

func newTailLines(n int) *tailLines {
	return &tailLines{n: n}
}

func (t *tailLines) Add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tailLines) Lines() []string {
	return t.lines
}

// relToDownloads 返回相对下载目录、以 / 分隔的路径
func relToDownloads(downloadsDir, p string) string {
	root, err := filepath.Abs(downloadsDir)
	if err != nil {
		return filepath.ToSlash(p)
	}
	rel, err := filepath.Rel(root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
