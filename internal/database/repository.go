package database

import (
	"io"

	"github.com/ds124wfegd/espdisplay/internal/entity"
	"github.com/ds124wfegd/espdisplay/internal/pkg/storage"
)

// FlowRepository keeps flow snapshots and their previews so a flow can still
// be looked up after it left memory.
type FlowRepository interface {
	Save(flow *entity.Flow) error
	FindByID(id string) (*entity.Flow, error)
	Delete(id string) error
	SavePreview(id string, png io.Reader) error
	OpenPreview(id string) (io.ReadCloser, error)
}

type fileFlowRepository struct {
	storage storage.FileStorage
}
