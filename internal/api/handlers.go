// internal/api/handlers.go
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/Slade66/audiobook-fetcher/internal/config"
	"github.com/Slade66/audiobook-fetcher/internal/downloader"
	"github.com/Slade66/audiobook-fetcher/internal/services"
	"github.com/Slade66/audiobook-fetcher/internal/status"
	"github.com/Slade66/audiobook-fetcher/pkg/task"
	"github.com/gin-gonic/gin"
)

const unknownAuthor = "Unknown Author"

// Server 持有 HTTP 层需要的全部依赖
type Server struct {
	store    *status.Manager
	sched    *downloader.Scheduler
	settings *config.SettingsStore
	cfg      config.Config
}

// NewServer 创建 API 服务
func NewServer(store *status.Manager, sched *downloader.Scheduler, settings *config.SettingsStore, cfg config.Config) *Server {
	return &Server{store: store, sched: sched, settings: settings, cfg: cfg}
}

// downloadRequest 同时支持表单和 JSON 提交
type downloadRequest struct {
	URLs           string `form:"urls" json:"urls"`
	OutputTemplate string `form:"output_template" json:"output_template"`
	OutputFormat   string `form:"output_format" json:"output_format"`
	Combine        bool   `form:"combine" json:"combine"`
	NoChapters     bool   `form:"no_chapters" json:"no_chapters"`
	CreateFolder   bool   `form:"create_folder" json:"create_folder"`
}

// taskGroup 是按作者分组展示时的一组任务
type taskGroup struct {
	Author  string   `json:"author"`
	TaskIDs []string `json:"task_ids"`
}

// downloadHandler 处理批量提交
func (s *Server) downloadHandler(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	urls := services.SplitURLs(req.URLs)
	if len(urls) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No URLs provided"})
		return
	}

	res := s.sched.Submit(urls, downloader.Request{
		OutputTemplate: req.OutputTemplate,
		OutputFormat:   req.OutputFormat,
		Combine:        req.Combine,
		NoChapters:     req.NoChapters,
		CreateFolder:   req.CreateFolder,
	})
	c.JSON(http.StatusOK, gin.H{
		"tasks":    res.Accepted,
		"warnings": res.Warnings,
	})
}

// getTasksHandler 按提交顺序返回所有任务
func (s *Server) getTasksHandler(c *gin.Context) {
	list := s.store.List()
	views := make([]task.View, 0, len(list))
	for _, t := range list {
		views = append(views, task.NewView(t))
	}

	resp := gin.H{"tasks": views}
	if s.settings.Settings().GroupByAuthor {
		resp["groups"] = groupByAuthor(views)
	}
	c.JSON(http.StatusOK, resp)
}

// groupByAuthor 只影响展示，不影响调度顺序
func groupByAuthor(views []task.View) []taskGroup {
	groups := []taskGroup{}
	index := map[string]int{}
	for _, v := range views {
		author := v.Author()
		if author == "" {
			author = unknownAuthor
		}
		i, ok := index[author]
		if !ok {
			i = len(groups)
			index[author] = i
			groups = append(groups, taskGroup{Author: author, TaskIDs: []string{}})
		}
		groups[i].TaskIDs = append(groups[i].TaskIDs, v.ID)
	}
	return groups
}

func (s *Server) getTaskHandler(c *gin.Context) {
	t, err := s.store.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	c.JSON(http.StatusOK, task.NewView(t))
}

// notApplicable 用于取消/删除竞态：不是错误，客户端流程照常继续
func notApplicable(c *gin.Context, reason string) {
	c.JSON(http.StatusOK, gin.H{"status": "not_applicable", "reason": reason})
}

func (s *Server) cancelTaskHandler(c *gin.Context) {
	err := s.sched.Cancel(c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	case errors.Is(err, status.ErrTaskNotFound):
		notApplicable(c, "Task not found")
	case errors.Is(err, downloader.ErrNotCancellable):
		notApplicable(c, "Task already finished")
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) retryTaskHandler(c *gin.Context) {
	newID, err := s.sched.Retry(c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "queued", "task_id": newID})
	case errors.Is(err, status.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
	case errors.Is(err, downloader.ErrNotRetryable):
		notApplicable(c, "Only failed or cancelled tasks can be retried")
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) removeTaskHandler(c *gin.Context) {
	err := s.sched.Remove(c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "removed"})
	case errors.Is(err, status.ErrTaskNotFound):
		notApplicable(c, "Task not found")
	case errors.Is(err, status.ErrTaskActive):
		notApplicable(c, "Task is still active")
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) clearTasksHandler(c *gin.Context) {
	n := s.sched.ClearTerminal()
	c.JSON(http.StatusOK, gin.H{"status": "cleared", "removed": n})
}

func (s *Server) getSettingsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"settings":         s.settings.Settings(),
		"config_file_path": s.settings.Path(),
		"downloads_dir":    s.cfg.DownloadsDir,
	})
}

func (s *Server) updateSettingsHandler(c *gin.Context) {
	var patch config.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	st, err := s.settings.UpdateGlobal(patch)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update settings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": st})
}

// serviceView 不包含密码
type serviceView struct {
	services.Service
	Configured bool   `json:"configured"`
	Username   string `json:"username,omitempty"`
	Library    string `json:"library,omitempty"`
}

func (s *Server) getServicesHandler(c *gin.Context) {
	all := services.All()
	out := make([]serviceView, 0, len(all))
	for _, svc := range all {
		v := serviceView{Service: svc}
		if sc, ok := s.settings.Source(svc.ID); ok {
			v.Configured = true
			v.Username = sc.Username
			v.Library = sc.Library
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"services": out})
}

func (s *Server) updateServiceHandler(c *gin.Context) {
	var sc config.SourceConfig
	if err := c.ShouldBindJSON(&sc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	err := s.settings.UpdateSource(c.Param("id"), sc)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "saved"})
	case errors.Is(err, config.ErrUnknownService):
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown service"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save configuration"})
	}
}

func (s *Server) removeServiceHandler(c *gin.Context) {
	if err := s.settings.RemoveSource(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove configuration"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"timestamp":     time.Now().Format(time.RFC3339),
		"config_dir":    s.cfg.ConfigDir,
		"downloads_dir": s.cfg.DownloadsDir,
		"running":       s.sched.Running(),
		"queued":        s.sched.Queued(),
	})
}
