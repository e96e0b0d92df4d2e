// internal/output/template.go
package output

import (
	"regexp"
	"strings"
)

// DefaultTemplate 在用户与全局设置都没有给出模板时使用
const DefaultTemplate = "{title}"

var (
	invalidPathChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	controlChars     = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	placeholder      = regexp.MustCompile(`\{[^{}]+\}`)
)

// SanitizeSegment 清洗单个路径段：非法字符替换为 "_"，去掉控制字符和首尾空白。
// 只由点组成的段（"."、".."）不是合法的文件名，结果为空。
// 段内的空格和点原样保留，已经合法的段不会被修改。
// 结果可能为空串，调用方负责丢弃空段。
func SanitizeSegment(s string) string {
	s = invalidPathChars.ReplaceAllString(s, "_")
	s = controlChars.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if strings.Trim(s, ".") == "" {
		return ""
	}
	return s
}

// SanitizeTemplateLiteral 只清洗模板中 {...} 以外的字面量部分，
// 保留空格与连字符，例如 " - "。
func SanitizeTemplateLiteral(s string) string {
	s = invalidPathChars.ReplaceAllString(s, "_")
	return controlChars.ReplaceAllString(s, "")
}

// splitSegments 按 / 或 \ 切分模板
func splitSegments(tpl string) []string {
	return strings.FieldsFunc(tpl, func(r rune) bool { return r == '/' || r == '\\' })
}

// ComposeTemplate 根据“按作者分组”和“每本书一个目录”两个开关组装最终模板：
//
//	groupByAuthor: {author}/<tpl>
//	createFolder:  <tpl>/<tpl 的最后一段>
func ComposeTemplate(tpl string, createFolder, groupByAuthor bool) string {
	tpl = strings.TrimSpace(tpl)
	if tpl == "" {
		tpl = DefaultTemplate
	}
	segs := splitSegments(tpl)
	if len(segs) == 0 {
		segs = []string{DefaultTemplate}
	}
	if createFolder {
		segs = append(segs, segs[len(segs)-1])
	}
	if groupByAuthor && segs[0] != "{author}" {
		segs = append([]string{"{author}"}, segs...)
	}
	return strings.Join(segs, "/")
}

// ToolTemplate 把模板整理成交给 audiobook-dl 的 -o 参数：
// 占位符原样保留，由外部工具展开；字面量部分逐段清洗，空段被丢弃。
func ToolTemplate(tpl string) string {
	var out []string
	for _, seg := range splitSegments(tpl) {
		var b strings.Builder
		last := 0
		for _, loc := range placeholder.FindAllStringIndex(seg, -1) {
			b.WriteString(SanitizeTemplateLiteral(seg[last:loc[0]]))
			b.WriteString(seg[loc[0]:loc[1]])
			last = loc[1]
		}
		b.WriteString(SanitizeTemplateLiteral(seg[last:]))
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return DefaultTemplate
	}
	return strings.Join(out, "/")
}

// RenderTemplate 用已知字段展开模板，得到相对路径（不含扩展名）。
// 每个段在替换后单独清洗；缺失字段导致的空段会被丢弃，
// 所以 "{author}/{series}/{title}" 在没有 series 时得到 "Author/Title"。
// 全部为空时返回空串。
func RenderTemplate(tpl string, fields map[string]string) string {
	var out []string
	for _, seg := range splitSegments(tpl) {
		rendered := placeholder.ReplaceAllStringFunc(seg, func(ph string) string {
			key := strings.ToLower(strings.TrimSpace(ph[1 : len(ph)-1]))
			return fields[key]
		})
		if s := SanitizeSegment(rendered); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "/")
}

// IsLiteral 判断模板中是否没有任何占位符
func IsLiteral(tpl string) bool {
	return !placeholder.MatchString(tpl)
}
