// Package httpapi is the thin Gin façade over the core: submit (single-
// and two-stage), status, GPU status, and object download. Every handler
// only validates and enqueues/reads; the actual work happens in the Task
// Queue's workers.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tiangong-mineru/orchestrator/internal/config"
	"github.com/tiangong-mineru/orchestrator/internal/gpu"
	"github.com/tiangong-mineru/orchestrator/internal/objectstore"
	"github.com/tiangong-mineru/orchestrator/internal/officeconvert"
	"github.com/tiangong-mineru/orchestrator/internal/parser"
	"github.com/tiangong-mineru/orchestrator/internal/runner"
	"github.com/tiangong-mineru/orchestrator/internal/taskqueue"
	"github.com/tiangong-mineru/orchestrator/internal/twostage"
	"github.com/tiangong-mineru/orchestrator/pkg/logger"
)

const (
	taskKindRun   = "mineru:run"
	taskKindParse = "twostage:parse"
)

// Handlers bundles every collaborator the façade needs to enqueue and
// inspect tasks; one instance is registered against the Gin router.
type Handlers struct {
	Cfg       *config.Config
	Scheduler *gpu.Scheduler
	Queue     *taskqueue.Queue
	Redis     *redis.Client
}

// Register wires every route onto the given router group.
func (h *Handlers) Register(r gin.IRouter) {
	r.POST("/api/v1/tasks", h.SubmitSingleStage)
	r.POST("/api/v1/tasks/two-stage", h.SubmitTwoStage)
	r.GET("/api/v1/tasks/:task_id", h.GetStatus)
	r.GET("/api/v1/gpu/status", h.GPUStatus)
	r.GET("/api/v1/objects/:collection/:user_id/*object_path", h.Download)
}

// submitForm is the common multipart body shared by both submit endpoints.
type submitForm struct {
	ChunkType   bool
	ReturnTxt   bool
	SaveToMinio bool
	Priority    string

	Backend string
	Lang    string
	Method  string

	Address   string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Prefix    string
	Meta      string
	UploadDPI int

	Provider       string
	Model          string
	PromptOverride string
	ContextWindow  int
}

func parseSubmitForm(c *gin.Context) submitForm {
	return submitForm{
		ChunkType:      c.PostForm("chunk_type") == "true",
		ReturnTxt:      c.PostForm("return_txt") == "true",
		SaveToMinio:    c.PostForm("save_to_minio") == "true",
		Priority:       c.PostForm("priority"),
		Backend:        c.DefaultPostForm("backend", "pipeline"),
		Lang:           c.PostForm("lang"),
		Method:         c.PostForm("method"),
		Address:        c.PostForm("address"),
		AccessKey:      c.PostForm("access_key"),
		SecretKey:      c.PostForm("secret_key"),
		UseSSL:         c.PostForm("use_ssl") == "true",
		Bucket:         c.PostForm("bucket"),
		Prefix:         c.PostForm("prefix"),
		Meta:           c.PostForm("meta"),
		UploadDPI:      intOrDefault(c.PostForm("upload_dpi"), 150),
		Provider:       c.PostForm("provider"),
		Model:          c.PostForm("model"),
		PromptOverride: c.PostForm("prompt"),
		ContextWindow:  intOrDefault(c.PostForm("context_window"), 0),
	}
}

func intOrDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// saveUpload copies the multipart file into the task workspace root and
// returns its on-disk path plus original filename.
func saveUpload(workspaceRoot string, fh *multipart.FileHeader) (string, error) {
	taskDir := filepath.Join(workspaceRoot, uuid.NewString())
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		return "", fmt.Errorf("httpapi: create task workspace: %w", err)
	}
	dst := filepath.Join(taskDir, filepath.Base(fh.Filename))

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("httpapi: open upload: %w", err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("httpapi: create destination: %w", err)
	}
	defer out.Close()

	buf := make([]byte, 32*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return "", fmt.Errorf("httpapi: write upload: %w", writeErr)
			}
		}
		if readErr != nil {
			break
		}
	}
	return dst, nil
}

// SubmitSingleStage handles POST /api/v1/tasks.
func (h *Handlers) SubmitSingleStage(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	form := parseSubmitForm(c)

	path, err := saveUpload(h.Cfg.Workspace.Root, fh)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := runner.Request{
		SourcePath:       path,
		OriginalFilename: fh.Filename,
		Backend:          form.Backend,
		Pipeline:         "default",
		ChunkType:        form.ChunkType,
		ReturnTxt:        form.ReturnTxt,
		SaveToMinio:      form.SaveToMinio,
		ObjectStoreCreds: objectstore.Credentials{Address: form.Address, AccessKey: form.AccessKey, SecretKey: form.SecretKey, UseSSL: form.UseSSL},
		Bucket:           form.Bucket,
		Prefix:           form.Prefix,
		Meta:             form.Meta,
		UploadDPI:        form.UploadDPI,
		WorkspaceDir:     filepath.Dir(path),
		ParserOptions: parser.Options{
			Lang:       firstNonEmpty(form.Lang, h.Cfg.Parser.DefaultLang),
			Method:     firstNonEmpty(form.Method, h.Cfg.Parser.DefaultMethod),
			ServerURLs: h.Cfg.Parser.VLLMServerURLs,
			APIKey:     h.Cfg.Parser.VLLMAPIKey,
			AuthHeader: h.Cfg.Parser.VLLMAuthHeader,
		},
	}

	if err := validateSubmit(req, h.Cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	taskID := uuid.NewString()
	payload, err := json.Marshal(struct {
		Request runner.Request `json:"request"`
		TaskID  string         `json:"task_id"`
	}{Request: req, TaskID: taskID})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	priority := taskqueue.ResolvePriority(form.Priority)
	id, err := h.Queue.Submit(c.Request.Context(), taskKindRun, payload, priority)
	if err != nil {
		respondQueueError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"task_id": id, "state": string(taskqueue.StatePending)})
}

// SubmitTwoStage handles POST /api/v1/tasks/two-stage.
func (h *Handlers) SubmitTwoStage(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	form := parseSubmitForm(c)

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if officeconvert.IsMarkdown(ext) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "two-stage submission requires an image-bearing document, not markdown"})
		return
	}

	path, err := saveUpload(h.Cfg.Workspace.Root, fh)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	workspace := filepath.Dir(path)

	currentPath := path
	var extraCleanup []string
	if officeconvert.IsConvertible(ext) {
		outDir := filepath.Join(workspace, "office-convert")
		pdfPath, extra, err := officeconvert.Convert(c.Request.Context(), path, outDir)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		extraCleanup = extra
		currentPath = pdfPath
	} else if !strings.EqualFold(ext, ".pdf") {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported two-stage extension %q", ext)})
		return
	}

	if form.SaveToMinio {
		if err := validateObjectStore(form); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	backend, err := parser.ResolveBackend(form.Backend)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prefix := ""
	if form.SaveToMinio {
		prefix = objectstore.BuildPrefix(fh.Filename, form.Prefix)
	}

	contextWindow := form.ContextWindow
	if contextWindow == 0 {
		contextWindow = h.Cfg.Vision.ContextWindow
	}

	jobID := uuid.NewString()
	taskID := uuid.NewString()

	parseReq := twostage.ParseStageRequest{
		SourcePath:       currentPath,
		Backend:          string(backend),
		ChunkType:        form.ChunkType,
		ReturnTxt:        form.ReturnTxt,
		Workspace:        workspace,
		ExtraCleanup:     extraCleanup,
		ContextWindow:    contextWindow,
		SaveToMinio:      form.SaveToMinio,
		ObjectStoreCreds: objectstore.Credentials{Address: form.Address, AccessKey: form.AccessKey, SecretKey: form.SecretKey, UseSSL: form.UseSSL},
		Bucket:           form.Bucket,
		Prefix:           prefix,
		Meta:             form.Meta,
		UploadDPI:        form.UploadDPI,
		OriginalFilename: fh.Filename,
	}

	payload, err := json.Marshal(struct {
		Request       twostage.ParseStageRequest `json:"request"`
		VisionRequest twostage.VisionTaskPayload `json:"vision_request"`
		JobID         string                     `json:"job_id"`
		TaskID        string                     `json:"task_id"`
	}{
		Request: parseReq,
		VisionRequest: twostage.VisionTaskPayload{
			Priority:       form.Priority,
			Provider:       form.Provider,
			Model:          form.Model,
			PromptOverride: form.PromptOverride,
		},
		JobID:  jobID,
		TaskID: taskID,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	names := twostage.ResolveQueueNames(h.Cfg.Queue, taskqueue.ResolvePriority(form.Priority))
	id, err := h.Queue.SubmitToQueue(c.Request.Context(), taskKindParse, names.Parse, payload)
	if err != nil {
		respondQueueError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"task_id": id, "state": string(taskqueue.StatePending)})
}

func validateSubmit(req runner.Request, cfg *config.Config) error {
	ext := strings.ToLower(filepath.Ext(req.OriginalFilename))
	if !officeconvert.IsMarkdown(ext) && !officeconvert.IsConvertible(ext) {
		supported := false
		for _, s := range cfg.Parser.SupportedExtensions {
			if strings.EqualFold(s, ext) {
				supported = true
				break
			}
		}
		if !supported {
			return fmt.Errorf("unsupported file extension %q", ext)
		}
	}
	if req.SaveToMinio {
		if err := validateObjectStore(submitForm{Address: req.ObjectStoreCreds.Address, AccessKey: req.ObjectStoreCreds.AccessKey, SecretKey: req.ObjectStoreCreds.SecretKey, Bucket: req.Bucket}); err != nil {
			return err
		}
	}
	return nil
}

func validateObjectStore(form submitForm) error {
	if form.Address == "" || form.AccessKey == "" || form.SecretKey == "" {
		return errors.New("save_to_minio requires address, access_key, and secret_key")
	}
	if form.Bucket == "" {
		return errors.New("save_to_minio requires a bucket")
	}
	return nil
}

func respondQueueError(c *gin.Context, err error) {
	if errors.Is(err, taskqueue.ErrUnreachable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// GetStatus handles GET /api/v1/tasks/:task_id.
func (h *Handlers) GetStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	status, err := h.Queue.Status(taskID)
	if err != nil {
		if errors.Is(err, taskqueue.ErrUnreachable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, taskqueue.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"task_id": taskID, "state": string(taskqueue.StatePending)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	switch status.State {
	case taskqueue.StateSuccess:
		var result json.RawMessage = status.Result
		c.JSON(http.StatusOK, gin.H{"task_id": taskID, "state": string(status.State), "result": result})
	case taskqueue.StateFailure, taskqueue.StateRevoked:
		c.JSON(http.StatusInternalServerError, gin.H{"task_id": taskID, "state": string(status.State), "error": status.Error})
	default:
		c.JSON(http.StatusOK, gin.H{"task_id": taskID, "state": string(status.State)})
	}
}

// GPUStatus handles GET /api/v1/gpu/status.
func (h *Handlers) GPUStatus(c *gin.Context) {
	report := h.Scheduler.Status()
	gpus := make([]gin.H, 0, len(report.GPUs))
	for _, g := range report.GPUs {
		gpus = append(gpus, gin.H{"gpu_id": g.GPUID, "pending": g.Pending})
	}
	c.JSON(http.StatusOK, gin.H{"gpus": gpus, "total_pending": report.TotalPending})
}

// Download handles GET /api/v1/objects/:collection/:user_id/*object_path.
// Object-store credentials are supplied as query parameters since this is
// a GET request with no body.
func (h *Handlers) Download(c *gin.Context) {
	collection := c.Param("collection")
	userID := c.Param("user_id")
	objectPath := strings.TrimPrefix(c.Param("object_path"), "/")

	creds := objectstore.Credentials{
		Address:   c.Query("address"),
		AccessKey: c.Query("access_key"),
		SecretKey: c.Query("secret_key"),
		UseSSL:    c.Query("use_ssl") == "true",
	}
	bucket := c.Query("bucket")
	if creds.Address == "" || bucket == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address and bucket query parameters are required"})
		return
	}

	store, err := objectstore.New(creds)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	object := fmt.Sprintf("%s/%s/%s", collection, userID, objectPath)
	stream, info, err := store.PrepareDownload(c.Request.Context(), bucket, object)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer stream.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(objectPath)))
	c.DataFromReader(http.StatusOK, info.Size, info.ContentType, stream, nil)
	logger.Debugf("httpapi: streamed download bucket=%s object=%s", bucket, object)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
