package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"landingzone/internal/config"
	"landingzone/internal/hub"
	"landingzone/internal/render"
)

// Session is the authenticated caller: the hub handle and its access token.
type Session struct {
	Username string
	Token    string
}

// Request is one form submission.
type Request struct {
	ProjectName string
	FileName    string
	File        io.ReadSeeker
	Size        int64
}

// Result holds the two repositories a successful run leaves behind.
type Result struct {
	DatasetID  string `json:"dataset_id"`
	DatasetURL string `json:"dataset_url"`
	SpaceID    string `json:"space_id"`
	SpaceURL   string `json:"space_url"`
}

// Hub is the subset of the hub API the workflow drives.
type Hub interface {
	WhoAmI(ctx context.Context) (*hub.Identity, error)
	RepoExists(ctx context.Context, repo hub.RepoID) (bool, error)
	CreateRepo(ctx context.Context, req hub.CreateRepoRequest) (string, error)
	UploadFile(ctx context.Context, repo hub.RepoID, f hub.UploadFile) (*hub.CommitInfo, error)
	DuplicateSpace(ctx context.Context, req hub.DuplicateRequest) (string, error)
	DeleteRepo(ctx context.Context, repo hub.RepoID) error
}

// HubFactory returns a hub client acting with token.
type HubFactory func(token string) Hub

type Options struct {
	Endpoint         string
	TemplateSpace    hub.RepoID
	DatasetSuffix    string
	SpaceSuffix      string
	ExportPath       string
	DataRepoVariable string
	// TokenSecret, when set, names the space secret that receives the
	// caller's token so the space can read the private dataset.
	TokenSecret string
	// RollbackOnFailure deletes the dataset when duplication fails.
	RollbackOnFailure bool
	SpaceHardware     string
}

// OptionsFromConfig maps the hub section of the configuration.
func OptionsFromConfig(cfg config.HubConfig) (Options, error) {
	tmpl, err := hub.ParseRepoID(hub.RepoSpace, cfg.TemplateSpace)
	if err != nil {
		return Options{}, fmt.Errorf("template space: %w", err)
	}
	opts := Options{
		Endpoint:          cfg.Endpoint,
		TemplateSpace:     tmpl,
		DatasetSuffix:     cfg.DatasetSuffix,
		SpaceSuffix:       cfg.SpaceSuffix,
		ExportPath:        cfg.ExportPath,
		DataRepoVariable:  cfg.DataRepoVariable,
		RollbackOnFailure: cfg.RollbackOnFailure,
		SpaceHardware:     cfg.SpaceHardware,
	}
	if cfg.TokenSecretEnabled() {
		opts.TokenSecret = "HF_TOKEN"
	}
	return opts, nil
}

// Workflow runs login-gated landing zone provisioning.
type Workflow struct {
	newHub HubFactory
	opts   Options
	logger *zap.Logger
}

func New(newHub HubFactory, opts Options, logger *zap.Logger) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ExportPath == "" {
		opts.ExportPath = "export.xml"
	}
	if opts.DataRepoVariable == "" {
		opts.DataRepoVariable = "DATA_REPO"
	}
	return &Workflow{newHub: newHub, opts: opts, logger: logger}
}

// Provision creates the private dataset, uploads the export into it and
// duplicates the template space pointed at it. Every hub call is made once.
// A failure after the dataset exists leaves it in place unless rollback is
// enabled.
func (w *Workflow) Provision(ctx context.Context, sess *Session, req Request) (*Result, error) {
	if sess == nil || strings.TrimSpace(sess.Token) == "" {
		return nil, fail(ErrUnauthenticated, "", errors.New("please login first"))
	}
	project := strings.TrimSpace(req.ProjectName)
	if project == "" {
		return nil, fail(ErrInvalidInput, "", errors.New("project name is required"))
	}
	if req.File == nil || req.Size == 0 {
		return nil, fail(ErrInvalidInput, "", errors.New("export file is required"))
	}
	if req.Size < 0 {
		return nil, fail(ErrInvalidInput, "", errors.New("export file size unknown"))
	}
	for _, suffix := range []string{w.opts.DatasetSuffix, w.opts.SpaceSuffix} {
		if err := hub.ValidateRepoName(project + suffix); err != nil {
			return nil, fail(ErrInvalidInput, "", fmt.Errorf("project name: %w", err))
		}
	}

	client := w.newHub(sess.Token)
	username := sess.Username
	if username == "" {
		id, err := client.WhoAmI(ctx)
		if err != nil {
			if errors.Is(err, hub.ErrUnauthorized) {
				return nil, fail(ErrUnauthenticated, "whoami", err)
			}
			return nil, fail(ErrUploadFailed, "whoami", err)
		}
		username = id.Name
	}

	datasetRepo, err := hub.NewRepoID(hub.RepoDataset, username, project+w.opts.DatasetSuffix)
	if err != nil {
		return nil, fail(ErrInvalidInput, "", fmt.Errorf("project name: %w", err))
	}
	spaceRepo, err := hub.NewRepoID(hub.RepoSpace, username, project+w.opts.SpaceSuffix)
	if err != nil {
		return nil, fail(ErrInvalidInput, "", fmt.Errorf("project name: %w", err))
	}

	log := w.logger.With(
		zap.String("user", username),
		zap.String("dataset", datasetRepo.String()),
		zap.String("space", spaceRepo.String()))

	datasetURL, err := w.upload(ctx, client, username, datasetRepo, spaceRepo, req)
	if err != nil {
		log.Warn("dataset upload failed", zap.Error(err))
		return nil, err
	}
	log.Info("dataset ready")

	spaceURL, perr := w.duplicate(ctx, client, sess.Token, datasetRepo, spaceRepo)
	if perr != nil {
		log.Warn("space provisioning failed", zap.Error(perr))
		if w.opts.RollbackOnFailure {
			if derr := client.DeleteRepo(ctx, datasetRepo); derr != nil {
				log.Error("dataset rollback failed", zap.Error(derr))
				perr.Err = errors.Join(perr.Err, fmt.Errorf("rollback %s: %w", datasetRepo, derr))
			} else {
				log.Info("dataset rolled back")
			}
		}
		return nil, perr
	}
	log.Info("space ready")

	return &Result{
		DatasetID:  datasetRepo.String(),
		DatasetURL: datasetURL,
		SpaceID:    spaceRepo.String(),
		SpaceURL:   spaceURL,
	}, nil
}

func (w *Workflow) upload(ctx context.Context, client Hub, owner string, dataset, space hub.RepoID, req Request) (string, error) {
	for _, repo := range []hub.RepoID{dataset, space} {
		exists, err := client.RepoExists(ctx, repo)
		if err != nil {
			return "", fail(ErrUploadFailed, "check "+string(repo.Type), err)
		}
		if exists {
			return "", fail(ErrUploadFailed, "check "+string(repo.Type),
				fmt.Errorf("%s %s: %w", repo.Type, repo, hub.ErrConflict))
		}
	}

	datasetURL, err := client.CreateRepo(ctx, hub.CreateRepoRequest{Repo: dataset, Private: true})
	if err != nil {
		return "", fail(ErrUploadFailed, "create dataset", err)
	}

	if _, err := client.UploadFile(ctx, dataset, hub.UploadFile{
		PathInRepo:    w.opts.ExportPath,
		Content:       req.File,
		Size:          req.Size,
		CommitMessage: "Initial upload: " + w.opts.ExportPath,
	}); err != nil {
		return "", fail(ErrUploadFailed, "upload export", err)
	}

	card, err := render.DatasetCard{
		Owner:      owner,
		ExportPath: w.opts.ExportPath,
		SpaceID:    space.String(),
		SpaceURL:   space.URL(w.opts.Endpoint),
	}.Bytes()
	if err != nil {
		return "", fail(ErrUploadFailed, "dataset card", err)
	}
	if _, err := client.UploadFile(ctx, dataset, hub.UploadFile{
		PathInRepo:    "README.md",
		Content:       bytes.NewReader(card),
		Size:          int64(len(card)),
		CommitMessage: "Add dataset card",
	}); err != nil {
		return "", fail(ErrUploadFailed, "upload dataset card", err)
	}
	return datasetURL, nil
}

func (w *Workflow) duplicate(ctx context.Context, client Hub, token string, dataset, space hub.RepoID) (string, *Error) {
	req := hub.DuplicateRequest{
		From:      w.opts.TemplateSpace,
		To:        space,
		Private:   true,
		Hardware:  w.opts.SpaceHardware,
		Variables: []hub.KeyValue{{Key: w.opts.DataRepoVariable, Value: dataset.String()}},
	}
	if w.opts.TokenSecret != "" {
		req.Secrets = []hub.KeyValue{{Key: w.opts.TokenSecret, Value: token}}
	}
	url, err := client.DuplicateSpace(ctx, req)
	if err != nil {
		return "", fail(ErrProvisionFailed, "duplicate space", err)
	}
	return url, nil
}
