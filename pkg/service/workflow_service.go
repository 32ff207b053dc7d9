package service

import (
	"context"
	"time"

	"github.com/ignatij/flowmetrics/pkg/models"
	"github.com/ignatij/flowmetrics/pkg/storage"
	"github.com/pkg/errors"
)

// WorkflowSource lists the workflows known to the automation platform.
type WorkflowSource interface {
	FetchWorkflows(ctx context.Context, userID string) ([]models.Workflow, error)
}

// WorkflowService manages the registry of monitored workflows.
type WorkflowService struct {
	store  storage.Store
	logger Logger
}

func NewWorkflowService(store storage.Store, logger Logger) *WorkflowService {
	return &WorkflowService{store: store, logger: logger}
}

func validateWorkflow(id, name string) error {
	if id == "" {
		return errors.New("workflow id cannot be empty")
	}
	if name == "" {
		return errors.New("workflow name cannot be empty")
	}
	if len(name) > 100 {
		return errors.New("workflow name too long (max 100 characters)")
	}
	return nil
}

// CreateWorkflow registers an n8n workflow for monitoring.
func (s *WorkflowService) CreateWorkflow(ctx context.Context, id, name, userID string) (wf models.Workflow, err error) {
	if err := validateWorkflow(id, name); err != nil {
		return models.Workflow{}, err
	}
	txStore, err := s.store.Begin()
	if err != nil {
		return models.Workflow{}, err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	now := time.Now().UTC()
	wf = models.Workflow{
		ID:        id,
		Name:      name,
		UserID:    userID,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err = txStore.SaveWorkflow(ctx, wf); err != nil {
		return models.Workflow{}, err
	}
	s.logger.Infof("Registered workflow '%s' with ID %s", name, id)
	return wf, nil
}

func (s *WorkflowService) GetWorkflow(ctx context.Context, id string) (models.Workflow, error) {
	return s.store.GetWorkflow(ctx, id)
}

func (s *WorkflowService) ListWorkflows(ctx context.Context, userID string) ([]models.Workflow, error) {
	return s.store.ListWorkflows(ctx, userID)
}

// DeleteWorkflow unregisters a workflow together with its stored executions.
func (s *WorkflowService) DeleteWorkflow(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("workflow id cannot be empty")
	}
	if err := s.store.DeleteWorkflow(ctx, id); err != nil {
		return err
	}
	s.logger.Infof("Removed workflow %s", id)
	return nil
}

// ImportWorkflows registers every workflow of the source that is not yet
// known and returns the newly registered ones.
func (s *WorkflowService) ImportWorkflows(ctx context.Context, src WorkflowSource, userID string) ([]models.Workflow, error) {
	remote, err := src.FetchWorkflows(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch workflows")
	}
	var imported []models.Workflow
	for _, r := range remote {
		wf, err := s.CreateWorkflow(ctx, r.ID, r.Name, userID)
		if errors.Is(err, storage.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return imported, errors.Wrapf(err, "failed to import workflow %s", r.ID)
		}
		imported = append(imported, wf)
	}
	s.logger.Infof("Imported %d of %d workflows", len(imported), len(remote))
	return imported, nil
}
