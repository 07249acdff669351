package service

import (
	"context"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/ds124wfegd/espdisplay/internal/database"
	"github.com/ds124wfegd/espdisplay/internal/entity"
	"github.com/ds124wfegd/espdisplay/internal/pkg/device"
	"github.com/ds124wfegd/espdisplay/internal/pkg/kafka"
	"github.com/ds124wfegd/espdisplay/internal/pkg/prefs"
	"github.com/ds124wfegd/espdisplay/internal/pkg/processor"
	"github.com/ds124wfegd/espdisplay/internal/worker"
)

// FlowService runs transcode-then-upload flows. Each flow owns its image;
// nothing is shared between flows.
type FlowService interface {
	Select(ctx context.Context, src entity.ImageSource, target entity.UploadTarget) (*entity.Flow, error)
	Upload(ctx context.Context, id string) (*entity.Flow, error)
	Retry(ctx context.Context, id string) (*entity.Flow, error)
	Cancel(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*entity.Flow, error)
	Preview(ctx context.Context, id string) (io.ReadCloser, error)
	Close(ctx context.Context) error
}

// DeviceService manages what is stored on the display and where it is.
type DeviceService interface {
	Address(ctx context.Context) (entity.DeviceAddress, error)
	SetAddress(ctx context.Context, addr entity.DeviceAddress) error

	ListGroups(ctx context.Context) ([]entity.Group, error)
	CreateGroup(ctx context.Context, name string) (int, error)
	RenameGroup(ctx context.Context, groupID int, name string) error
	DeleteGroup(ctx context.Context, groupID int) error
	ListGroupImages(ctx context.Context, groupID int) ([]entity.GroupImage, error)
	DeleteGroupImage(ctx context.Context, groupNumber int, fileName string) error

	ShowSlot(ctx context.Context, screen, slot int) error
	DeleteSlot(ctx context.Context, screen, slot int) error
	SlotImageURL(ctx context.Context, screen, slot int) (string, error)
}

// Profiles maps a destination kind to its pixel format.
type Profiles interface {
	For(kind entity.TargetKind) (entity.TargetSpec, error)
}

// SlotLimits bounds screen and slot numbers, both starting at 1.
type SlotLimits struct {
	Screens        int
	SlotsPerScreen int
}

func (l SlotLimits) Check(screen, slot int) error {
	if screen < 1 || screen > l.Screens {
		return fmt.Errorf("%w: screen %d outside [1,%d]", entity.ErrInvalidTarget, screen, l.Screens)
	}
	if slot < 1 || slot > l.SlotsPerScreen {
		return fmt.Errorf("%w: slot %d outside [1,%d]", entity.ErrInvalidTarget, slot, l.SlotsPerScreen)
	}
	return nil
}

type FlowDeps struct {
	Profiles     Profiles
	Limits       SlotLimits
	Processor    processor.ImageProcessor
	Orchestrator UploadOrchestrator
	Repo         database.FlowRepository
	Producer     kafka.Producer
	Pool         *worker.Pool
	Dispatcher   *worker.Dispatcher
}

// flowRun is the in-memory side of a flow. It is only touched on the dispatcher.
type flowRun struct {
	flow    entity.Flow
	image   *image.NRGBA
	attempt *Attempt
	cancel  context.CancelFunc
	ctx     context.Context
	handle  *worker.Handle
}

type flowService struct {
	profiles     Profiles
	limits       SlotLimits
	processor    processor.ImageProcessor
	orchestrator UploadOrchestrator
	repo         database.FlowRepository
	producer     kafka.Producer
	pool         *worker.Pool
	dispatcher   *worker.Dispatcher

	runs map[string]*flowRun
	now  func() time.Time
}

func NewFlowService(deps FlowDeps) FlowService {
	return &flowService{
		profiles:     deps.Profiles,
		limits:       deps.Limits,
		processor:    deps.Processor,
		orchestrator: deps.Orchestrator,
		repo:         deps.Repo,
		producer:     deps.Producer,
		pool:         deps.Pool,
		dispatcher:   deps.Dispatcher,
		runs:         make(map[string]*flowRun),
		now:          time.Now,
	}
}

type deviceService struct {
	client *device.Client
	store  prefs.AddressStore
	limits SlotLimits
}

func NewDeviceService(client *device.Client, store prefs.AddressStore, limits SlotLimits) DeviceService {
	return &deviceService{client: client, store: store, limits: limits}
}
