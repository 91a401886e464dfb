package api

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"landingzone/internal/auth"
	"landingzone/internal/provision"
	"landingzone/internal/render"
	"landingzone/internal/service/account"
	"landingzone/internal/worker"
)

// multipart framing and the text fields on top of the file itself
const formOverheadBytes = 1 << 20

// in-memory share of a parsed form; the rest spills to temp files
const formMemoryBytes = 32 << 20

var errUploadTooLarge = errors.New("export file too large")

// limitUpload caps the request body and parses the form up front, so an
// oversized body is answered with 413 before the CSRF check reads the form.
func (h *Handler) limitUpload(reject func(*gin.Context, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes+formOverheadBytes)
		if c.ContentType() == gin.MIMEMultipartPOSTForm {
			var maxErr *http.MaxBytesError
			if err := c.Request.ParseMultipartForm(formMemoryBytes); errors.As(err, &maxErr) {
				reject(c, errUploadTooLarge)
				c.Abort()
				return
			}
		}
		c.Next()
	}
}

func (h *Handler) pageError(c *gin.Context, err error) {
	data := h.newPageData(c)
	data.Error = h.userMessage(err)
	c.HTML(statusFor(err), "index.html", data)
}

func (h *Handler) apiError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"error": h.userMessage(err),
		"kind":  provision.KindName(err),
	})
}

func (h *Handler) provisionPage(c *gin.Context) {
	project := strings.TrimSpace(c.PostForm("project_name"))
	result, err := h.runProvision(c)
	if err != nil {
		data := h.newPageData(c)
		data.ProjectName = project
		data.Error = h.userMessage(err)
		c.HTML(statusFor(err), "index.html", data)
		return
	}
	md, err := render.ResultMarkdown(render.Summary{
		DatasetID:        result.DatasetID,
		DatasetURL:       result.DatasetURL,
		SpaceID:          result.SpaceID,
		SpaceURL:         result.SpaceURL,
		ServerName:       h.opts.MCPServerName,
		DataRepoVariable: h.opts.DataRepoVariable,
	})
	var panel template.HTML
	if err == nil {
		panel, err = render.HTML(md)
	}
	if err != nil {
		// the repositories exist, so still report them
		h.logger.Error("render result", zap.Error(err))
		panel = template.HTML(fmt.Sprintf("<p>Dataset %s and space %s are ready.</p>",
			template.HTMLEscapeString(result.DatasetID), template.HTMLEscapeString(result.SpaceID)))
	}
	data := h.newPageData(c)
	data.ProjectName = project
	data.Result = panel
	c.HTML(http.StatusCreated, "index.html", data)
}

func (h *Handler) provisionAPI(c *gin.Context) {
	result, err := h.runProvision(c)
	if err != nil {
		h.apiError(c, err)
		return
	}
	snippet, err := render.MCPConfig(h.opts.MCPServerName, result.SpaceID)
	if err != nil {
		h.logger.Error("render mcp config", zap.Error(err))
	}
	c.JSON(http.StatusCreated, gin.H{
		"dataset_id":  result.DatasetID,
		"dataset_url": result.DatasetURL,
		"space_id":    result.SpaceID,
		"space_url":   result.SpaceURL,
		"mcp_config":  snippet,
	})
}

// runProvision reads the form and runs the workflow for the caller. Without
// a session the workflow still runs and reports the missing login itself.
func (h *Handler) runProvision(c *gin.Context) (*provision.Result, error) {
	req, closeFile, err := h.readUpload(c)
	if err != nil {
		return nil, err
	}
	defer closeFile()

	ctx := c.Request.Context()
	sess, ok := auth.SessionFromContext(c)
	if !ok {
		return h.provisioner.Provision(ctx, nil, req)
	}
	user, err := h.accounts.GetUser(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, account.ErrUserNotFound) {
			return h.provisioner.Provision(ctx, nil, req)
		}
		return nil, err
	}
	psess := &provision.Session{Username: user.Username, Token: sess.AccessToken}

	var result *provision.Result
	err = h.workers.Run(ctx, user.ID, func(ctx context.Context) error {
		run, err := h.accounts.StartRun(ctx, user.ID, req.ProjectName)
		if err != nil {
			h.logger.Warn("record run start", zap.String("user", user.Username), zap.Error(err))
		}
		var perr error
		result, perr = h.provisioner.Provision(ctx, psess, req)
		if run != nil {
			out := account.RunOutcome{Kind: provision.KindName(perr)}
			if perr != nil {
				out.Message = perr.Error()
			} else {
				out.DatasetID = result.DatasetID
				out.SpaceID = result.SpaceID
			}
			if err := h.accounts.FinishRun(context.WithoutCancel(ctx), run.ID, out); err != nil {
				h.logger.Warn("record run outcome", zap.String("run", run.ID), zap.Error(err))
			}
		}
		return perr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// readUpload extracts the project name and export file. A missing file is
// left for the workflow to reject.
func (h *Handler) readUpload(c *gin.Context) (provision.Request, func(), error) {
	req := provision.Request{ProjectName: c.PostForm("project_name")}
	noop := func() {}
	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return req, noop, errUploadTooLarge
		}
		// no file part, or not a multipart request at all
		return req, noop, nil
	}
	if fh.Size > h.opts.MaxUploadBytes {
		return req, noop, errUploadTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return req, noop, fmt.Errorf("open upload: %w", err)
	}
	req.File = f
	req.Size = fh.Size
	req.FileName = filepath.Base(fh.Filename)
	return req, func() { closeQuietly(f) }, nil
}

func closeQuietly(f multipart.File) {
	_ = f.Close()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, worker.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, errUploadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, provision.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, provision.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, provision.ErrUploadFailed), errors.Is(err, provision.ErrProvisionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) userMessage(err error) string {
	var perr *provision.Error
	switch {
	case errors.Is(err, worker.ErrBusy):
		return "A landing zone is already being created for your account. Wait for it to finish."
	case errors.Is(err, errUploadTooLarge):
		return fmt.Sprintf("The export file is larger than %d MB.", h.opts.MaxUploadBytes>>20)
	case errors.As(err, &perr):
		switch {
		case errors.Is(err, provision.ErrUnauthenticated):
			return "Please sign in with Hugging Face first."
		case errors.Is(err, provision.ErrInvalidInput):
			return "Invalid input: " + causeText(perr) + "."
		case errors.Is(err, provision.ErrUploadFailed):
			return "Upload failed: " + causeText(perr) + "."
		default:
			return "Creating the space failed: " + causeText(perr) + "."
		}
	default:
		h.logger.Error("provision request", zap.Error(err))
		return "Something went wrong, please retry."
	}
}

func causeText(perr *provision.Error) string {
	if perr.Err == nil {
		return perr.Kind.Error()
	}
	return perr.Err.Error()
}
