// Package dispatch serves the launch endpoint: it packs the uploaded files,
// assembles the task environment, registers provenance and hands the result
// to the launcher.
package dispatch

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/workflow-svc/internal/auth"
	"github.com/animus-labs/workflow-svc/internal/catalog"
	"github.com/animus-labs/workflow-svc/internal/launcher"
	"github.com/animus-labs/workflow-svc/internal/platform/auditlog"
	"github.com/animus-labs/workflow-svc/internal/platform/httpserver"
	"github.com/animus-labs/workflow-svc/internal/submission"
)

const tokenLayout = "2006-01-02_15-04-05.000000"

var (
	moduleName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
	taskName   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

type Launcher interface {
	Launch(ctx context.Context, req launcher.Request) error
}

// TokenRefresher turns the session's offline token into a catalog access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

type AuditFunc func(ctx context.Context, event auditlog.LaunchEvent) error

type API struct {
	Logger   *slog.Logger
	Launcher Launcher
	// Catalog is nil when provenance is disabled.
	Catalog catalog.Catalog
	Tokens  TokenRefresher
	Audit   AuditFunc

	// Forward is the process environment subset passed to every task.
	Forward        map[string]string
	Defaults       submission.Defaults
	Debug          bool
	Version        string
	MaxUploadBytes int64

	now       func() time.Time
	newSuffix func() string
}

func (api *API) Register(mux *http.ServeMux, protect func(http.Handler) http.Handler, cors func(http.Handler) http.Handler) {
	mux.Handle("/launch/{task}/", cors(protect(http.HandlerFunc(api.handleLaunch))))
}

func (api *API) clock() time.Time {
	if api.now != nil {
		return api.now()
	}
	return time.Now()
}

// launchToken names the archive and the workspace of one launch.
func (api *API) launchToken() string {
	suffix := ""
	if api.newSuffix != nil {
		suffix = api.newSuffix()
	} else {
		suffix = strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	return api.clock().Format(tokenLayout) + "-" + suffix
}

func (api *API) handleLaunch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "OPTIONS, POST")
		api.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	credential, ok := auth.CredentialFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	module, task, ok := splitTask(r.PathValue("task"))
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_task")
		return
	}

	privateKey, err := bearerKey(r.Header.Get("Authorization"))
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_authorization")
		return
	}

	files, cfgName, err := api.readUpload(w, r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.writeError(w, r, http.StatusRequestEntityTooLarge, "upload_too_large")
			return
		}
		api.writeError(w, r, http.StatusBadRequest, "invalid_multipart")
		return
	}

	sub, err := submission.Pack(files, cfgName, api.Defaults)
	if err != nil {
		switch {
		case errors.Is(err, submission.ErrInvalidConfig):
			api.writeError(w, r, http.StatusBadRequest, "invalid_config")
		case errors.Is(err, submission.ErrUnsafePath):
			api.writeError(w, r, http.StatusBadRequest, "invalid_filename")
		default:
			api.Logger.ErrorContext(r.Context(), "pack submission failed", "error", err.Error())
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	token := api.launchToken()
	env := api.environment(credential, sub.Params)
	ctx := r.Context()
	api.Logger.InfoContext(ctx, "launch requested", "launch_id", token, "task", module+"."+task, "files", len(sub.Names))

	rec, err := api.registerProvenance(ctx, env, token, module, task, cfgName, sub.Archive)
	if err != nil {
		api.Logger.ErrorContext(ctx, "provenance registration failed", "launch_id", token, "error", err.Error())
		api.writeError(w, r, http.StatusInternalServerError, "catalog_error")
		return
	}
	if rec != nil {
		env[envWorkflow] = rec.ID
	}

	requestID := httpserver.RequestID(r)
	err = api.Launcher.Launch(ctx, launcher.Request{
		Token:      token,
		Module:     module,
		Task:       task,
		CfgName:    cfgName,
		Submission: sub,
		Env:        env,
		PrivateKey: privateKey,
		OnFinish:   api.finisher(credential, rec, token, module+"."+task, requestID),
	})
	if err != nil {
		api.Logger.ErrorContext(ctx, "launch failed", "launch_id", token, "error", err.Error())
		api.finisher(credential, rec, token, module+"."+task, requestID)(context.WithoutCancel(ctx), catalog.StatusFailed, api.clock().UTC(), err)
		switch {
		case errors.Is(err, launcher.ErrWorkspaceExists):
			api.writeError(w, r, http.StatusConflict, "workspace_exists")
		case errors.Is(err, launcher.ErrQueueFull), errors.Is(err, launcher.ErrPoolClosed):
			api.writeError(w, r, http.StatusServiceUnavailable, "launch_queue_full")
		default:
			api.writeError(w, r, http.StatusInternalServerError, "launch_failed")
		}
		return
	}
	queued := auditlog.LaunchEvent{
		Time:      api.clock().UTC(),
		LaunchID:  token,
		Task:      module + "." + task,
		Status:    string(catalog.StatusRunning),
		RequestID: requestID,
	}
	if rec != nil {
		queued.WorkflowID = rec.ID
	}
	api.audit(ctx, queued)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if rec != nil {
		_, _ = io.WriteString(w, rec.URL)
	}
}

// finisher reports the terminal status of a launch to the catalog and the
// audit log.
func (api *API) finisher(credential string, rec *catalog.Record, token, task, requestID string) launcher.StatusFunc {
	return func(ctx context.Context, status catalog.Status, endedAt time.Time, runErr error) {
		event := auditlog.LaunchEvent{
			Time:      endedAt,
			LaunchID:  token,
			Task:      task,
			Status:    string(status),
			RequestID: requestID,
		}
		if runErr != nil {
			event.Error = runErr.Error()
		}
		if rec != nil {
			event.WorkflowID = rec.ID
			if err := api.updateStatus(ctx, credential, *rec, status, endedAt); err != nil {
				api.Logger.ErrorContext(ctx, "workflow status update failed", "launch_id", token, "workflow_id", rec.ID, "status", string(status), "error", err.Error())
			}
		}
		api.audit(ctx, event)
	}
}

func (api *API) updateStatus(ctx context.Context, credential string, rec catalog.Record, status catalog.Status, endedAt time.Time) error {
	accessToken, err := api.Tokens.Refresh(ctx, credential)
	if err != nil {
		return err
	}
	return api.Catalog.UpdateStatus(ctx, accessToken, rec, status, endedAt)
}

func (api *API) audit(ctx context.Context, event auditlog.LaunchEvent) {
	if api.Audit == nil {
		return
	}
	if err := api.Audit(ctx, event); err != nil {
		api.Logger.WarnContext(ctx, "audit launch failed", "launch_id", event.LaunchID, "error", err.Error())
	}
}

// readUpload collects every file part of the multipart body and the optional
// cfg_name field.
func (api *API) readUpload(w http.ResponseWriter, r *http.Request) ([]submission.File, string, error) {
	if api.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, api.MaxUploadBytes)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", err
	}

	var (
		files   []submission.File
		cfgName string
	)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, "", err
		}
		filename := rawFileName(part.Header.Get("Content-Disposition"))
		switch {
		case filename != "":
			body, err := io.ReadAll(part)
			_ = part.Close()
			if err != nil {
				return nil, "", err
			}
			files = append(files, submission.File{Name: filename, Body: body})
		case part.FormName() == "cfg_name":
			raw, err := io.ReadAll(io.LimitReader(part, 4096))
			_ = part.Close()
			if err != nil {
				return nil, "", err
			}
			cfgName = strings.TrimSpace(string(raw))
		default:
			_ = part.Close()
		}
	}
	return files, cfgName, nil
}

// rawFileName keeps directory components of the uploaded name, which
// multipart.Part.FileName strips.
func rawFileName(disposition string) string {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func splitTask(raw string) (string, string, bool) {
	i := strings.LastIndex(raw, ".")
	if i < 0 {
		return "", "", false
	}
	module, task := raw[:i], raw[i+1:]
	if !moduleName.MatchString(module) || !taskName.MatchString(task) {
		return "", "", false
	}
	return module, task, true
}

// bearerKey decodes the private key material optionally carried as a bearer
// value. An absent header yields no key.
func bearerKey(header string) ([]byte, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(value) == "" {
		return nil, errors.New("authorization must be a bearer value")
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (api *API) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	httpserver.WriteError(w, r, status, code)
}
