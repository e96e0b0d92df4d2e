// internal/output/lines.go
package output

import (
	"bufio"
	"io"
	"regexp"
	"strings"
)

// Stream 标识一行输出来自 stdout 还是 stderr
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Line 是外部进程输出中的一行（已去掉 ANSI 与首尾空白）
type Line struct {
	Stream Stream
	Text   string
}

var ansiEscape = regexp.MustCompile(`\x1b(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// StripANSI 去掉终端颜色等控制序列
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// MaxLineBytes 是单行的最大长度，超出部分按同样长度切成多段
const MaxLineBytes = 64 * 1024

// SplitLines 是一个 bufio.SplitFunc，同时以 \n 与 \r 作为行结束符，
// 这样进度条用 \r 原地刷新的输出也能逐行拿到。
// 没有行结束符的数据攒满 MaxLineBytes 时直接切出一段，Scanner 永远不会因行过长而失败。
func SplitLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	limit := len(data)
	if limit > MaxLineBytes {
		limit = MaxLineBytes
	}
	for i := 0; i < limit; i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if len(data) >= MaxLineBytes {
		return MaxLineBytes, data[:MaxLineBytes], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// ReadLines 逐行读取 r 直到 EOF，把清洗后的非空行发送到 out。
// 与上一行完全相同的行会被丢弃（\r 刷新时会反复输出同一进度）。
// 读取出错时仍会把 r 读到 EOF，避免写端进程因管道写满而阻塞。
func ReadLines(r io.Reader, stream Stream, out chan<- Line) error {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 2*MaxLineBytes)
	scanner.Split(SplitLines)

	last := ""
	for scanner.Scan() {
		text := strings.TrimSpace(StripANSI(scanner.Text()))
		if text == "" || text == last {
			continue
		}
		last = text
		out <- Line{Stream: stream, Text: text}
	}
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}
