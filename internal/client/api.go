// internal/client/api.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Slade66/audiobook-fetcher/pkg/task"
)

// ErrNotFound 对应服务端的 404
var ErrNotFound = errors.New("not found")

// Group 是按作者分组时的一组任务
type Group struct {
	Author  string   `json:"author"`
	TaskIDs []string `json:"task_ids"`
}

// TaskList 是 GET /api/tasks 的响应
type TaskList struct {
	Tasks  []task.View `json:"tasks"`
	Groups []Group     `json:"groups,omitempty"`
}

// ActionResult 是取消、删除、重试这类操作的响应
type ActionResult struct {
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
	Removed int    `json:"removed,omitempty"`
}

// Applied 为 false 表示操作因竞态被忽略，不算错误
func (r ActionResult) Applied() bool {
	return r.Status != "not_applicable"
}

// Warning 是提交时被拒绝的一条 URL
type Warning struct {
	URL     string `json:"url"`
	Warning string `json:"warning"`
	Message string `json:"message"`
}

// SubmitResult 是 POST /api/download 的响应
type SubmitResult struct {
	Tasks    []string  `json:"tasks"`
	Warnings []Warning `json:"warnings"`
}

// API 是编排服务的 HTTP 客户端
type API struct {
	base string
	http *http.Client
}

// NewAPI 创建客户端，base 形如 http://localhost:8000
func NewAPI(base string) *API {
	return &API{base: strings.TrimRight(base, "/"), http: GetClient()}
}

// Tasks 拉取任务列表，同时返回原始响应体供变更检测使用
func (a *API) Tasks(ctx context.Context) (TaskList, []byte, error) {
	var list TaskList
	raw, err := a.do(ctx, http.MethodGet, "/api/tasks", nil, "")
	if err != nil {
		return list, nil, err
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return list, nil, fmt.Errorf("解析任务列表失败: %w", err)
	}
	return list, raw, nil
}

// Submit 提交一批 URL，选项沿用服务端的全局设置
func (a *API) Submit(ctx context.Context, urls []string) (SubmitResult, error) {
	var res SubmitResult
	form := url.Values{"urls": {strings.Join(urls, "\n")}}
	raw, err := a.do(ctx, http.MethodPost, "/api/download", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return res, err
	}
	err = json.Unmarshal(raw, &res)
	return res, err
}

func (a *API) Cancel(ctx context.Context, id string) (ActionResult, error) {
	return a.action(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/cancel")
}

func (a *API) Retry(ctx context.Context, id string) (ActionResult, error) {
	return a.action(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/retry")
}

func (a *API) Remove(ctx context.Context, id string) (ActionResult, error) {
	return a.action(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id))
}

// Clear 删除所有已结束的任务
func (a *API) Clear(ctx context.Context) (ActionResult, error) {
	return a.action(ctx, http.MethodPost, "/api/tasks/clear")
}

func (a *API) action(ctx context.Context, method, path string) (ActionResult, error) {
	var res ActionResult
	raw, err := a.do(ctx, method, path, nil, "")
	if err != nil {
		return res, err
	}
	err = json.Unmarshal(raw, &res)
	return res, err
}

func (a *API) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 %s %s 失败: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("%s %s: %s", method, path, e.Error)
		}
		return nil, fmt.Errorf("%s %s: 服务器返回状态码 %d", method, path, resp.StatusCode)
	}
	return bytes.TrimSpace(raw), nil
}
