// pkg/fileinfo/fetcher.go
package fileinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Slade66/audiobook-fetcher/pkg/task"
	"github.com/dustin/go-humanize"
)

// probeTimeout 限制单次 ffprobe 调用的耗时
const probeTimeout = 30 * time.Second

// probeOutput 对应 `ffprobe -print_format json -show_format` 输出中用到的部分
type probeOutput struct {
	Format struct {
		Duration string            `json:"duration"`
		Size     string            `json:"size"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
}

// Probe 调用 ffprobe 读取音频文件的标签，返回书籍元数据。
// 文件大小总是从文件系统读取，即使 ffprobe 没有给出。
func Probe(ctx context.Context, ffprobeBin, path string) (task.Metadata, error) {
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffprobeBin, "-v", "quiet", "-print_format", "json", "-show_format", path)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("无法读取文件元数据: %w", err)
	}

	md, err := ParseProbeOutput(out)
	if err != nil {
		return nil, err
	}
	if info, statErr := os.Stat(path); statErr == nil {
		md["size"] = humanize.Bytes(uint64(info.Size()))
	}
	return md, nil
}

// ParseProbeOutput 把 ffprobe 的 JSON 输出映射成元数据字段：
// title、author、narrator、year、duration、size。缺失的字段不会出现在结果里。
func ParseProbeOutput(data []byte) (task.Metadata, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("无效的 ffprobe 输出: %w", err)
	}

	// 不同封装器的标签大小写不一致
	tags := make(map[string]string, len(out.Format.Tags))
	for k, v := range out.Format.Tags {
		if v = strings.TrimSpace(v); v != "" {
			tags[strings.ToLower(k)] = v
		}
	}

	md := task.Metadata{}
	set := func(field string, keys ...string) {
		for _, k := range keys {
			if v, ok := tags[k]; ok {
				md[field] = v
				return
			}
		}
	}
	set("title", "title")
	set("author", "artist", "album_artist")
	set("narrator", "composer", "performer")
	set("year", "date", "year")
	if y, ok := md["year"]; ok && len(y) > 4 {
		// date 通常是 2021-05-04 这样的完整日期
		if _, err := strconv.Atoi(y[:4]); err == nil {
			md["year"] = y[:4]
		}
	}

	if secs, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil && secs > 0 {
		md["duration"] = FormatDuration(time.Duration(secs * float64(time.Second)))
	}
	if size, err := strconv.ParseUint(out.Format.Size, 10, 64); err == nil {
		md["size"] = humanize.Bytes(size)
	}
	return md, nil
}

// FormatDuration 格式化为 "1h 1m"，不足一小时时为 "42m"
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
