package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ds124wfegd/espdisplay/internal/entity"
	"github.com/sirupsen/logrus"
)

func (s *deviceService) Address(ctx context.Context) (entity.DeviceAddress, error) {
	return s.store.Address(ctx)
}

func (s *deviceService) SetAddress(ctx context.Context, addr entity.DeviceAddress) error {
	addr.Host = strings.TrimSpace(addr.Host)
	if err := s.store.SetAddress(ctx, addr); err != nil {
		return err
	}
	logrus.WithField("address", addr.BaseURL()).Info("device address changed")
	return nil
}

func (s *deviceService) ListGroups(ctx context.Context) ([]entity.Group, error) {
	return s.client.ListGroups(ctx)
}

func (s *deviceService) CreateGroup(ctx context.Context, name string) (int, error) {
	name, err := groupName(name)
	if err != nil {
		return 0, err
	}
	id, err := s.client.CreateGroup(ctx, name)
	if err != nil {
		return 0, err
	}
	logrus.WithFields(logrus.Fields{"group_id": id, "name": name}).Info("group created")
	return id, nil
}

func (s *deviceService) RenameGroup(ctx context.Context, groupID int, name string) error {
	if err := positive("group id", groupID); err != nil {
		return err
	}
	name, err := groupName(name)
	if err != nil {
		return err
	}
	return s.client.RenameGroup(ctx, groupID, name)
}

func (s *deviceService) DeleteGroup(ctx context.Context, groupID int) error {
	if err := positive("group id", groupID); err != nil {
		return err
	}
	if err := s.client.DeleteGroup(ctx, groupID); err != nil {
		return err
	}
	logrus.WithField("group_id", groupID).Info("group deleted")
	return nil
}

func (s *deviceService) ListGroupImages(ctx context.Context, groupID int) ([]entity.GroupImage, error) {
	if err := positive("group id", groupID); err != nil {
		return nil, err
	}
	return s.client.ListGroupImages(ctx, groupID)
}

func (s *deviceService) DeleteGroupImage(ctx context.Context, groupNumber int, fileName string) error {
	if err := positive("group number", groupNumber); err != nil {
		return err
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" || strings.ContainsAny(fileName, `/\`) {
		return fmt.Errorf("%w: file name %q", entity.ErrInvalidTarget, fileName)
	}
	return s.client.DeleteGroupImage(ctx, groupNumber, fileName)
}

func (s *deviceService) ShowSlot(ctx context.Context, screen, slot int) error {
	if err := s.limits.Check(screen, slot); err != nil {
		return err
	}
	return s.client.ShowSlot(ctx, screen, slot)
}

func (s *deviceService) DeleteSlot(ctx context.Context, screen, slot int) error {
	if err := s.limits.Check(screen, slot); err != nil {
		return err
	}
	return s.client.DeleteSlot(ctx, screen, slot)
}

func (s *deviceService) SlotImageURL(ctx context.Context, screen, slot int) (string, error) {
	if err := s.limits.Check(screen, slot); err != nil {
		return "", err
	}
	return s.client.SlotImageURL(ctx, screen, slot)
}

func groupName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: group name is required", entity.ErrInvalidTarget)
	}
	return name, nil
}

func positive(field string, v int) error {
	if v < 1 {
		return fmt.Errorf("%w: %s %d", entity.ErrInvalidTarget, field, v)
	}
	return nil
}
