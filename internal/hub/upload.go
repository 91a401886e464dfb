package hub

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"

	"go.uber.org/zap"
)

const (
	defaultRevision = "main"
	sampleSize      = 512
	lfsContentType  = "application/vnd.git-lfs+json"
)

// UploadFile is one file pushed in a single commit.
type UploadFile struct {
	// PathInRepo is the destination path inside the repository.
	PathInRepo string
	Content    io.ReadSeeker
	Size       int64
	// CommitMessage defaults to "Upload <path>".
	CommitMessage string
}

// CommitInfo describes the commit created by an upload.
type CommitInfo struct {
	CommitURL string `json:"commitUrl"`
	CommitOID string `json:"commitOid"`
	LFS       bool   `json:"-"`
}

type preuploadFile struct {
	Path   string `json:"path"`
	Sample string `json:"sample"`
	Size   int64  `json:"size"`
}

type preuploadResponse struct {
	Files []struct {
		Path       string `json:"path"`
		UploadMode string `json:"uploadMode"`
	} `json:"files"`
}

type lfsAction struct {
	Href   string            `json:"href"`
	Header map[string]string `json:"header"`
}

type lfsBatchResponse struct {
	Objects []struct {
		OID     string `json:"oid"`
		Size    int64  `json:"size"`
		Actions struct {
			Upload *lfsAction `json:"upload"`
			Verify *lfsAction `json:"verify"`
		} `json:"actions"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"objects"`
}

// UploadFile pushes f into repo as a single commit on main. The hub decides
// through the preupload call whether the bytes travel inline or through LFS.
func (c *Client) UploadFile(ctx context.Context, repo RepoID, f UploadFile) (*CommitInfo, error) {
	if f.Content == nil {
		return nil, errors.New("upload: content required")
	}
	if f.PathInRepo == "" {
		return nil, errors.New("upload: path required")
	}
	if f.CommitMessage == "" {
		f.CommitMessage = "Upload " + f.PathInRepo
	}

	sample, oid, size, err := inspect(f.Content)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", f.PathInRepo, err)
	}
	if f.Size > 0 && f.Size != size {
		return nil, fmt.Errorf("upload %s: size mismatch, declared %d read %d", f.PathInRepo, f.Size, size)
	}

	mode, err := c.preupload(ctx, repo, preuploadFile{
		Path:   f.PathInRepo,
		Sample: base64.StdEncoding.EncodeToString(sample),
		Size:   size,
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", f.PathInRepo, err)
	}

	var op map[string]any
	if mode == "lfs" {
		if err := c.uploadLFS(ctx, repo, f.Content, oid, size); err != nil {
			return nil, fmt.Errorf("upload %s: %w", f.PathInRepo, err)
		}
		op = map[string]any{"key": "lfsFile", "value": map[string]any{
			"path": f.PathInRepo,
			"algo": "sha256",
			"oid":  oid,
			"size": size,
		}}
	} else {
		if _, err := f.Content.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("upload %s: rewind: %w", f.PathInRepo, err)
		}
		raw, err := io.ReadAll(f.Content)
		if err != nil {
			return nil, fmt.Errorf("upload %s: read: %w", f.PathInRepo, err)
		}
		op = map[string]any{"key": "file", "value": map[string]any{
			"path":     f.PathInRepo,
			"content":  base64.StdEncoding.EncodeToString(raw),
			"encoding": "base64",
		}}
	}

	info, err := c.commit(ctx, repo, f.CommitMessage, op)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", f.PathInRepo, err)
	}
	info.LFS = mode == "lfs"
	c.logger.Info("file committed",
		zap.String("repo", repo.String()),
		zap.String("path", f.PathInRepo),
		zap.Int64("size", size),
		zap.Bool("lfs", info.LFS))
	return info, nil
}

// inspect returns the leading sample, the sha256 and the length of r, and
// leaves r rewound.
func inspect(r io.ReadSeeker) ([]byte, string, int64, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, "", 0, fmt.Errorf("rewind: %w", err)
	}
	h := sha256.New()
	var head bytes.Buffer
	n, err := io.Copy(io.MultiWriter(h, &limitedBuffer{buf: &head, max: sampleSize}), r)
	if err != nil {
		return nil, "", 0, fmt.Errorf("hash: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, "", 0, fmt.Errorf("rewind: %w", err)
	}
	return head.Bytes(), hex.EncodeToString(h.Sum(nil)), n, nil
}

type limitedBuffer struct {
	buf *bytes.Buffer
	max int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if room := l.max - l.buf.Len(); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		l.buf.Write(p[:room])
	}
	return len(p), nil
}

func (c *Client) preupload(ctx context.Context, repo RepoID, file preuploadFile) (string, error) {
	var out preuploadResponse
	path := fmt.Sprintf("/api/%s/preupload/%s", repo.apiPath(), defaultRevision)
	if err := c.doJSON(ctx, http.MethodPost, path, map[string]any{"files": []preuploadFile{file}}, &out); err != nil {
		return "", fmt.Errorf("preupload: %w", err)
	}
	for _, f := range out.Files {
		if f.Path == file.Path {
			return f.UploadMode, nil
		}
	}
	return "regular", nil
}

func (c *Client) uploadLFS(ctx context.Context, repo RepoID, content io.ReadSeeker, oid string, size int64) error {
	batchBody := map[string]any{
		"operation": "upload",
		"transfers": []string{"basic", "multipart"},
		"objects":   []map[string]any{{"oid": oid, "size": size}},
		"hash_algo": "sha256",
	}
	buf, err := json.Marshal(batchBody)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/"+repo.gitPath()+".git/info/lfs/objects/batch", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", lfsContentType)
	req.Header.Set("Content-Type", lfsContentType)
	var batch lfsBatchResponse
	if err := c.send(c.http, req, &batch); err != nil {
		return fmt.Errorf("lfs batch: %w", err)
	}
	if len(batch.Objects) == 0 {
		return errors.New("lfs batch: empty response")
	}
	obj := batch.Objects[0]
	if obj.Error != nil {
		return fmt.Errorf("lfs batch: %d %s", obj.Error.Code, obj.Error.Message)
	}
	if obj.Actions.Upload == nil {
		// object already stored
		return nil
	}
	if _, err := content.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind: %w", err)
	}
	upload := obj.Actions.Upload
	if chunk, ok := upload.Header["chunk_size"]; ok {
		chunkSize, err := strconv.ParseInt(chunk, 10, 64)
		if err != nil || chunkSize <= 0 {
			return fmt.Errorf("lfs multipart: invalid chunk_size %q", chunk)
		}
		if err := c.uploadMultipart(ctx, upload, content, oid, size, chunkSize); err != nil {
			return err
		}
	} else {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, upload.Href, io.NewSectionReader(readerAt(content), 0, size))
		if err != nil {
			return err
		}
		req.ContentLength = size
		for k, v := range upload.Header {
			req.Header.Set(k, v)
		}
		if err := c.send(c.storage, req, nil); err != nil {
			return fmt.Errorf("lfs put: %w", err)
		}
	}
	if verify := obj.Actions.Verify; verify != nil {
		buf, _ := json.Marshal(map[string]any{"oid": oid, "size": size})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, verify.Href, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", lfsContentType)
		for k, v := range verify.Header {
			req.Header.Set(k, v)
		}
		if err := c.send(c.http, req, nil); err != nil {
			return fmt.Errorf("lfs verify: %w", err)
		}
	}
	return nil
}

// uploadMultipart PUTs each chunk to the presigned part URLs listed in the
// action header (keys "00001", "00002", ...) and then posts the completion.
func (c *Client) uploadMultipart(ctx context.Context, action *lfsAction, content io.ReadSeeker, oid string, size, chunkSize int64) error {
	var partKeys []string
	for k := range action.Header {
		if _, err := strconv.Atoi(k); err == nil {
			partKeys = append(partKeys, k)
		}
	}
	sort.Strings(partKeys)

	type part struct {
		PartNumber int    `json:"partNumber"`
		ETag       string `json:"etag"`
	}
	parts := make([]part, 0, len(partKeys))
	at := readerAt(content)
	for i, key := range partKeys {
		offset := int64(i) * chunkSize
		if offset >= size {
			return fmt.Errorf("lfs multipart: %d parts offered for %d bytes", len(partKeys), size)
		}
		section := io.NewSectionReader(at, offset, min(chunkSize, size-offset))
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, action.Header[key], section)
		if err != nil {
			return err
		}
		req.ContentLength = section.Size()
		resp, err := c.storage.Do(req)
		if err != nil {
			return fmt.Errorf("lfs part %d: %w", i+1, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			err := readAPIError(resp)
			resp.Body.Close()
			return fmt.Errorf("lfs part %d: %w", i+1, err)
		}
		resp.Body.Close()
		parts = append(parts, part{PartNumber: i + 1, ETag: resp.Header.Get("ETag")})
	}

	buf, err := json.Marshal(map[string]any{"oid": oid, "parts": parts})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, action.Href, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", lfsContentType)
	req.Header.Set("Accept", lfsContentType)
	if err := c.send(c.storage, req, nil); err != nil {
		return fmt.Errorf("lfs multipart complete: %w", err)
	}
	return nil
}

func (c *Client) commit(ctx context.Context, repo RepoID, summary string, ops ...map[string]any) (*CommitInfo, error) {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	header := map[string]any{"key": "header", "value": map[string]any{"summary": summary, "description": ""}}
	if err := enc.Encode(header); err != nil {
		return nil, err
	}
	for _, op := range ops {
		if err := enc.Encode(op); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/api/%s/commit/%s", c.endpoint, repo.apiPath(), defaultRevision), &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("Accept", "application/json")
	var out CommitInfo
	if err := c.send(c.http, req, &out); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &out, nil
}

// readerAt adapts a seeker for section reads. Uploaded multipart files and
// os.File already implement io.ReaderAt.
func readerAt(r io.ReadSeeker) io.ReaderAt {
	if ra, ok := r.(io.ReaderAt); ok {
		return ra
	}
	return &seekReaderAt{r: r}
}

type seekReaderAt struct {
	r io.ReadSeeker
}

func (s *seekReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if _, err := s.r.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(s.r, p)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return n, err
}
