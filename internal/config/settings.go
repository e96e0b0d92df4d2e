// internal/config/settings.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Slade66/audiobook-fetcher/internal/services"
)

// FileName 是与 audiobook-dl 共用的配置文件名
const FileName = "audiobook-dl.toml"

const (
	DefaultMaxConcurrent = 2
	MinConcurrent        = 1
	MaxConcurrent        = 10
)

// ErrUnknownService 表示平台不在支持列表中
var ErrUnknownService = errors.New("unknown service")

// Settings 是调度与命名用到的全局设置
type Settings struct {
	OutputTemplate         string `json:"output_template"`
	DatabaseDirectory      string `json:"database_directory"`
	SkipDownloaded         bool   `json:"skip_downloaded"`
	MaxConcurrentDownloads int    `json:"max_concurrent_downloads"`
	CreateFolder           bool   `json:"create_folder"`
	GroupByAuthor          bool   `json:"group_by_author"`
}

// SettingsPatch 中为 nil 的字段保持不变
type SettingsPatch struct {
	OutputTemplate         *string `json:"output_template"`
	DatabaseDirectory      *string `json:"database_directory"`
	SkipDownloaded         *bool   `json:"skip_downloaded"`
	MaxConcurrentDownloads *int    `json:"max_concurrent_downloads"`
	CreateFolder           *bool   `json:"create_folder"`
	GroupByAuthor          *bool   `json:"group_by_author"`
}

// SourceConfig 是某个平台的登录凭据，密码不会通过 API 返回
type SourceConfig struct {
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	Library    string `json:"library,omitempty"`
	CookieFile string `json:"cookie_file,omitempty"`
}

// SettingsStore 读写 audiobook-dl.toml。
// 文件内容保存在一个原始 map 中，写回时不会丢失不认识的键。
// 文件被外部修改（mtime 变化）后，下一次读取会重新加载。
type SettingsStore struct {
	mu        sync.Mutex
	path      string
	raw       map[string]interface{}
	modTime   time.Time
	size      int64
	loaded    bool
	listeners []func(Settings)
}

// NewSettingsStore 在 dir 下打开（必要时创建目录）配置文件
func NewSettingsStore(dir string) (*SettingsStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("无法创建配置目录: %w", err)
	}
	s := &SettingsStore{path: filepath.Join(dir, FileName)}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path 返回配置文件的完整路径，也会作为 --config 传给 audiobook-dl
func (s *SettingsStore) Path() string {
	return s.path
}

// OnChange 注册设置写入后的回调
func (s *SettingsStore) OnChange(fn func(Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Settings 返回当前设置。读取失败时沿用上一次成功加载的内容。
func (s *SettingsStore) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(); err != nil {
		log.Printf("⚠️ 读取配置文件失败，沿用旧配置: %v", err)
	}
	return settingsFrom(s.raw)
}

// UpdateGlobal 写入全局设置
func (s *SettingsStore) UpdateGlobal(p SettingsPatch) (Settings, error) {
	s.mu.Lock()
	if err := s.reloadLocked(); err != nil {
		s.mu.Unlock()
		return Settings{}, err
	}
	var changes []string
	set := func(key string, v interface{}) {
		s.raw[key] = v
		changes = append(changes, fmt.Sprintf("%s=%v", key, v))
	}
	if p.OutputTemplate != nil {
		set("output_template", *p.OutputTemplate)
	}
	if p.DatabaseDirectory != nil {
		set("database_directory", *p.DatabaseDirectory)
	}
	if p.SkipDownloaded != nil {
		set("skip_downloaded", *p.SkipDownloaded)
	}
	if p.MaxConcurrentDownloads != nil {
		set("max_concurrent_downloads", int64(clampConcurrent(*p.MaxConcurrentDownloads)))
	}
	if p.CreateFolder != nil {
		set("create_folder", *p.CreateFolder)
	}
	if p.GroupByAuthor != nil {
		set("group_by_author", *p.GroupByAuthor)
	}
	if err := s.saveLocked(); err != nil {
		s.mu.Unlock()
		return Settings{}, err
	}
	current := settingsFrom(s.raw)
	listeners := s.listeners
	s.mu.Unlock()

	if len(changes) > 0 {
		log.Printf("⚙️ 全局设置已更新: %s", strings.Join(changes, ", "))
	}
	for _, fn := range listeners {
		fn(current)
	}
	return current, nil
}

// UpdateSource 写入某个平台的凭据，空字段不会写入
func (s *SettingsStore) UpdateSource(name string, sc SourceConfig) error {
	name = strings.ToLower(name)
	if _, ok := services.Lookup(name); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, name)
	}

	entry := map[string]interface{}{}
	for k, v := range map[string]string{
		"username":    sc.Username,
		"password":    sc.Password,
		"library":     sc.Library,
		"cookie_file": sc.CookieFile,
	} {
		if v != "" {
			entry[k] = v
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(); err != nil {
		return err
	}
	s.sourcesLocked()[name] = entry
	if err := s.saveLocked(); err != nil {
		return err
	}
	log.Printf("🔑 已保存平台凭据: %s", name)
	return nil
}

// RemoveSource 删除某个平台的凭据，不存在时什么也不做
func (s *SettingsStore) RemoveSource(name string) error {
	name = strings.ToLower(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(); err != nil {
		return err
	}
	sources := s.sourcesLocked()
	if _, ok := sources[name]; !ok {
		return nil
	}
	delete(sources, name)
	if err := s.saveLocked(); err != nil {
		return err
	}
	log.Printf("🗑️ 已删除平台凭据: %s", name)
	return nil
}

// Source 返回某个平台的凭据
func (s *SettingsStore) Source(name string) (SourceConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.reloadLocked()
	entry, ok := s.sourcesLocked()[strings.ToLower(name)].(map[string]interface{})
	if !ok {
		return SourceConfig{}, false
	}
	return SourceConfig{
		Username:   asString(entry["username"]),
		Password:   asString(entry["password"]),
		Library:    asString(entry["library"]),
		CookieFile: asString(entry["cookie_file"]),
	}, true
}

// ListSources 按名字排序返回已配置凭据的平台
func (s *SettingsStore) ListSources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.reloadLocked()
	var names []string
	for name := range s.sourcesLocked() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *SettingsStore) sourcesLocked() map[string]interface{} {
	sources, ok := s.raw["sources"].(map[string]interface{})
	if !ok {
		sources = map[string]interface{}{}
		s.raw["sources"] = sources
	}
	return sources
}

// reloadLocked 在文件 mtime 或大小变化时重新解析
func (s *SettingsStore) reloadLocked() error {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		if !s.loaded || !s.modTime.IsZero() {
			s.raw = map[string]interface{}{"sources": map[string]interface{}{}}
			s.modTime, s.size, s.loaded = time.Time{}, 0, true
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("无法读取配置文件: %w", err)
	}
	if s.loaded && info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return nil
	}

	raw := map[string]interface{}{}
	if _, err := toml.DecodeFile(s.path, &raw); err != nil {
		if !s.loaded {
			s.raw = map[string]interface{}{"sources": map[string]interface{}{}}
			s.loaded = true
		}
		return fmt.Errorf("无法解析配置文件 %s: %w", s.path, err)
	}
	s.raw = raw
	s.modTime, s.size, s.loaded = info.ModTime(), info.Size(), true
	return nil
}

// saveLocked 先写临时文件再改名，外部工具不会读到写了一半的文件
func (s *SettingsStore) saveLocked() error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".audiobook-dl-*.toml")
	if err != nil {
		return fmt.Errorf("无法写入配置文件: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(s.raw); err != nil {
		tmp.Close()
		return fmt.Errorf("无法编码配置文件: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("无法写入配置文件: %w", err)
	}
	if info, err := os.Stat(s.path); err == nil {
		s.modTime, s.size = info.ModTime(), info.Size()
	}
	return nil
}

func settingsFrom(raw map[string]interface{}) Settings {
	st := Settings{
		OutputTemplate:         asString(raw["output_template"]),
		DatabaseDirectory:      asString(raw["database_directory"]),
		SkipDownloaded:         asBool(raw["skip_downloaded"]),
		MaxConcurrentDownloads: DefaultMaxConcurrent,
		CreateFolder:           asBool(raw["create_folder"]),
		GroupByAuthor:          asBool(raw["group_by_author"]),
	}
	switch v := raw["max_concurrent_downloads"].(type) {
	case int64:
		st.MaxConcurrentDownloads = clampConcurrent(int(v))
	case int:
		st.MaxConcurrentDownloads = clampConcurrent(v)
	case float64:
		st.MaxConcurrentDownloads = clampConcurrent(int(v))
	}
	return st
}

func clampConcurrent(n int) int {
	if n < MinConcurrent {
		return MinConcurrent
	}
	if n > MaxConcurrent {
		return MaxConcurrent
	}
	return n
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}
