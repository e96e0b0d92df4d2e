// internal/output/files.go
package output

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// StagingPrefix 是每个任务私有暂存目录的名字前缀，完整形式为 __task_<id>__
const StagingPrefix = "__task_"

// StagingDirName 返回任务暂存目录名
func StagingDirName(taskID string) string {
	return StagingPrefix + taskID + "__"
}

// ResolveOutputFile 在任务暂存目录中找出本次的产物文件，返回绝对路径。
// 依次尝试：
//  1. 工具报告的候选路径（必须位于 stagingDir 内且存在）
//  2. 按模板推算的期望路径 expectedRel + 扩展名
//  3. 遍历 stagingDir 找到的第一个音频文件
//
// 只看本任务自己的目录，不会误认其他任务的文件。
func ResolveOutputFile(stagingDir string, candidates []string, expectedRel string) (string, bool) {
	root, err := filepath.Abs(stagingDir)
	if err != nil {
		return "", false
	}

	for _, c := range candidates {
		p := c
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		p = filepath.Clean(p)
		if !within(root, p) {
			continue
		}
		if isRegular(p) {
			return p, true
		}
	}

	if expectedRel != "" {
		base := filepath.Join(root, filepath.FromSlash(expectedRel))
		for _, ext := range AudioExtensions {
			if p := base + ext; isRegular(p) {
				return p, true
			}
			// 开启“每本书一个目录”时，工具可能把文件放进同名目录
			if p := filepath.Join(base, filepath.Base(base)+ext); isRegular(p) {
				return p, true
			}
		}
	}

	var found string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && hasAudioExt(d.Name()) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if found != "" {
		return found, true
	}
	return "", false
}

// Unwrap 把暂存目录中的所有内容移动到 destDir 并删除暂存目录。
// 同名目录递归合并，同名文件改名为 "name (1).ext"。
// outputFile 为暂存目录中的产物路径，返回它移动后的新位置。
func Unwrap(stagingDir, destDir, outputFile string) (string, error) {
	src, err := filepath.Abs(stagingDir)
	if err != nil {
		return "", err
	}
	dst, err := filepath.Abs(destDir)
	if err != nil {
		return "", err
	}
	if outputFile != "" {
		if outputFile, err = filepath.Abs(outputFile); err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", fmt.Errorf("创建下载目录失败: %w", err)
	}

	moved := outputFile
	if err := mergeDir(src, dst, outputFile, &moved); err != nil {
		return "", err
	}
	if err := os.RemoveAll(src); err != nil {
		return "", fmt.Errorf("删除暂存目录失败: %w", err)
	}
	return moved, nil
}

func mergeDir(src, dst, track string, moved *string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("读取目录 %s 失败: %w", src, err)
	}
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())

		info, statErr := os.Stat(to)
		switch {
		case errors.Is(statErr, fs.ErrNotExist):
			// 目标不存在，直接移动
		case statErr != nil:
			return statErr
		case e.IsDir() && info.IsDir():
			if err := mergeDir(from, to, track, moved); err != nil {
				return err
			}
			continue
		default:
			to = uniqueName(to, e.IsDir())
		}

		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("移动 %s 失败: %w", from, err)
		}
		if track != "" {
			if track == from {
				*moved = to
			} else if e.IsDir() && within(from, track) {
				rel, _ := filepath.Rel(from, track)
				*moved = filepath.Join(to, rel)
			}
		}
	}
	return nil
}

// uniqueName 为已存在的路径生成 "name (n).ext" 形式的新名字。目录不拆扩展名。
func uniqueName(path string, isDir bool) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := ""
	if !isDir {
		ext = filepath.Ext(base)
		base = strings.TrimSuffix(base, ext)
	}
	for i := 1; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
	}
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func isRegular(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
