package database

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/ds124wfegd/espdisplay/internal/entity"
	"github.com/ds124wfegd/espdisplay/internal/pkg/storage"
)

func NewFlowRepository(storage storage.FileStorage) FlowRepository {
	return &fileFlowRepository{storage: storage}
}

func (r *fileFlowRepository) Save(flow *entity.Flow) error {
	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("marshal flow %s: %w", flow.ID, err)
	}

	return r.storage.Save(r.getFlowMetadataPath(flow.ID), bytes.NewReader(data))
}

// FindByID loads a stored snapshot. Unknown ids match entity.ErrFlowNotFound.
func (r *fileFlowRepository) FindByID(id string) (*entity.Flow, error) {
	reader, err := r.storage.Get(r.getFlowMetadataPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", entity.ErrFlowNotFound, id)
		}
		return nil, err
	}
	defer reader.Close()

	var flow entity.Flow
	if err := json.NewDecoder(reader).Decode(&flow); err != nil {
		return nil, fmt.Errorf("decode flow %s: %w", id, err)
	}

	return &flow, nil
}

func (r *fileFlowRepository) Delete(id string) error {
	if err := r.storage.Delete(r.getFlowMetadataPath(id)); err != nil {
		return err
	}
	return r.storage.Delete(filepath.Join("previews", id))
}

func (r *fileFlowRepository) SavePreview(id string, png io.Reader) error {
	return r.storage.Save(r.getPreviewPath(id), png)
}

// OpenPreview opens the stored PNG preview. Missing previews match entity.ErrFlowNotFound.
func (r *fileFlowRepository) OpenPreview(id string) (io.ReadCloser, error) {
	reader, err := r.storage.Get(r.getPreviewPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: no preview for %s", entity.ErrFlowNotFound, id)
	}
	return reader, err
}

func (r *fileFlowRepository) getFlowMetadataPath(id string) string {
	return filepath.Join("metadata", id+".json")
}

func (r *fileFlowRepository) getPreviewPath(id string) string {
	return filepath.Join("previews", id, "preview.png")
}
