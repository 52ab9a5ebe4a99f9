package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelops/finetunectl/pkg/errors"
)

const filesEndpoint = "/files"

// RecordExt is the serialized-record extension the service accepts for
// fine-tuning datasets.
const RecordExt = ".jsonl"

type File struct {
	ID        string `json:"id"`
	Object    string `json:"object,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Purpose   string `json:"purpose,omitempty"`
	Bytes     int64  `json:"bytes,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

func (sdk *ftSDK) UploadFile(ctx context.Context, path, purpose string) (File, error) {
	if !strings.EqualFold(filepath.Ext(path), RecordExt) {
		return File{}, fmt.Errorf("%s: %w, want %s", path, errors.ErrInvalidData, RecordExt)
	}

	f, err := os.Open(path)
	if err != nil {
		return File{}, err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", purpose); err != nil {
		return File{}, err
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return File{}, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return File{}, err
	}
	if err := mw.Close(); err != nil {
		return File{}, err
	}

	url := sdk.baseURL + filesEndpoint

	body, err := sdk.processRequest(ctx, http.MethodPost, url, mw.FormDataContentType(), buf.Bytes(), http.StatusOK)
	if err != nil {
		return File{}, err
	}

	var uploaded File
	if err := json.Unmarshal(body, &uploaded); err != nil {
		return File{}, err
	}

	return uploaded, nil
}
