// internal/services/services.go
package services

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// 提交时返回给调用方的警告类型
const (
	WarningInvalidURL  = "Invalid URL format"
	WarningUnsupported = "Unsupported service"
)

// maxEchoedURL 限制警告信息中回显的 URL 长度
const maxEchoedURL = 100

// Service 描述一个 audiobook-dl 支持的有声书平台
type Service struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	AuthMethods   []string `json:"auth_methods"`
	LoginFields   []string `json:"login_fields"`
	RequiresShelf bool     `json:"requires_shelf"`
	ExampleURL    string   `json:"example_url"`
	// 识别该平台所用的二级域名（不含顶级域名）
	Domains []string `json:"-"`
}

var supported = map[string]Service{
	"storytel": {
		Name:          "Storytel / Mofibo",
		AuthMethods:   []string{"login"},
		LoginFields:   []string{"username", "password"},
		RequiresShelf: true,
		ExampleURL:    "https://www.storytel.com/pl/books/example-book-12345",
		Domains:       []string{"storytel", "mofibo"},
	},
	"saxo": {
		Name:        "Saxo",
		AuthMethods: []string{"login"},
		LoginFields: []string{"username", "password"},
		ExampleURL:  "https://www.saxo.com/en/book-name",
		Domains:     []string{"saxo"},
	},
	"nextory": {
		Name:        "Nextory",
		AuthMethods: []string{"login"},
		LoginFields: []string{"username", "password"},
		ExampleURL:  "https://nextory.com/book/example",
		Domains:     []string{"nextory"},
	},
	"ereolen": {
		Name:        "eReolen",
		AuthMethods: []string{"cookies", "login"},
		LoginFields: []string{"username", "password", "library"},
		ExampleURL:  "https://ereolen.dk/ting/object/example",
		Domains:     []string{"ereolen"},
	},
	"podimo": {
		Name:        "Podimo",
		AuthMethods: []string{"login"},
		LoginFields: []string{"username", "password"},
		ExampleURL:  "https://podimo.com/book/example",
		Domains:     []string{"podimo"},
	},
	"yourcloudlibrary": {
		Name:        "YourCloudLibrary",
		AuthMethods: []string{"cookies", "login"},
		LoginFields: []string{"username", "password", "library"},
		ExampleURL:  "https://www.yourcloudlibrary.com/title/example",
		Domains:     []string{"yourcloudlibrary"},
	},
	"everand": {
		Name:        "Everand (Scribd)",
		AuthMethods: []string{"cookies"},
		LoginFields: []string{},
		ExampleURL:  "https://everand.com/book/example",
		Domains:     []string{"everand", "scribd"},
	},
}

// http/https + 域名、localhost 或 IPv4，可选端口与路径
var urlPattern = regexp.MustCompile(`(?i)^https?://` +
	`(?:(?:[A-Z0-9](?:[A-Z0-9-]{0,61}[A-Z0-9])?\.)+[A-Z]{2,6}\.?|` +
	`localhost|` +
	`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})` +
	`(?::\d+)?` +
	`(?:/?|[/?]\S+)$`)

// Warning 是单个被拒绝 URL 的说明
type Warning struct {
	URL     string `json:"url"`
	Warning string `json:"warning"`
	Message string `json:"message"`
}

// All 按 id 排序返回所有支持的平台
func All() []Service {
	out := make([]Service, 0, len(supported))
	for id, s := range supported {
		s.ID = id
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lookup 按 id 查找平台
func Lookup(id string) (Service, bool) {
	id = strings.ToLower(id)
	s, ok := supported[id]
	if ok {
		s.ID = id
	}
	return s, ok
}

// IsValidURL 只做语法检查
func IsValidURL(raw string) bool {
	return urlPattern.MatchString(raw)
}

// Detect 根据主机名识别平台，例如 www.storytel.com、mofibo.dk
func Detect(raw string) (Service, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return Service{}, false
	}
	labels := strings.Split(strings.TrimSuffix(strings.ToLower(u.Hostname()), "."), ".")
	if len(labels) < 2 {
		return Service{}, false
	}
	name := labels[len(labels)-2]
	for id, s := range supported {
		for _, d := range s.Domains {
			if d == name {
				s.ID = id
				return s, true
			}
		}
	}
	return Service{}, false
}

// Validate 检查一条 URL，能接受时返回 nil
func Validate(raw string) *Warning {
	if !IsValidURL(raw) {
		return &Warning{
			URL:     raw,
			Warning: WarningInvalidURL,
			Message: fmt.Sprintf("Skipped invalid URL: %s", truncate(raw)),
		}
	}
	if _, ok := Detect(raw); !ok {
		return &Warning{
			URL:     raw,
			Warning: WarningUnsupported,
			Message: fmt.Sprintf("Skipped URL from unsupported service: %s", truncate(raw)),
		}
	}
	return nil
}

// SplitURLs 把换行分隔的文本拆成去掉首尾空白的非空行
func SplitURLs(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func truncate(s string) string {
	if r := []rune(s); len(r) > maxEchoedURL {
		return string(r[:maxEchoedURL])
	}
	return s
}
