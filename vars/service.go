package vars

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbitq/orbit/workflow"
)

// Store is the slice of persistence the service needs. Global scope
// rows use workflow.GlobalScope as the workflow id.
type Store interface {
	UpsertVariable(ctx context.Context, v *workflow.Variable) error
	GetVariable(ctx context.Context, workflowID uuid.UUID, key string) (*workflow.Variable, error)
	ListVariables(ctx context.Context, workflowID uuid.UUID) ([]*workflow.Variable, error)
	DeleteVariable(ctx context.Context, workflowID uuid.UUID, key string) error

	UpsertSecret(ctx context.Context, s *workflow.Secret) error
	GetSecret(ctx context.Context, workflowID uuid.UUID, key string) (*workflow.Secret, error)
	ListSecrets(ctx context.Context, workflowID uuid.UUID) ([]*workflow.Secret, error)
	DeleteSecret(ctx context.Context, workflowID uuid.UUID, key string) error
}

// Service manages variables and secrets. Secret plaintext exists only
// between Decrypt and the caller; it is never persisted or logged.
type Service struct {
	st     Store
	cipher *Cipher
	log    *zap.Logger
}

// NewService creates the service. The cipher is required for secret
// operations; passing nil disables them with an explicit error rather
// than silently storing plaintext.
func NewService(st Store, cipher *Cipher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{st: st, cipher: cipher, log: log}
}

// SetVariable creates or replaces a plaintext variable in the given
// scope.
func (s *Service) SetVariable(ctx context.Context, workflowID uuid.UUID, key, value, description string) (*workflow.Variable, error) {
	now := time.Now().UTC()
	v := &workflow.Variable{
		ID:          uuid.New(),
		WorkflowID:  workflowID,
		Key:         key,
		Value:       value,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing, err := s.st.GetVariable(ctx, workflowID, key); err == nil {
		v.ID = existing.ID
		v.CreatedAt = existing.CreatedAt
	}
	if err := s.st.UpsertVariable(ctx, v); err != nil {
		return nil, fmt.Errorf("store variable %q: %w", key, err)
	}
	return v, nil
}

// GetVariable returns the variable's value.
func (s *Service) GetVariable(ctx context.Context, workflowID uuid.UUID, key string) (string, error) {
	v, err := s.st.GetVariable(ctx, workflowID, key)
	if err != nil {
		return "", err
	}
	return v.Value, nil
}

// ListVariables lists a scope's variables.
func (s *Service) ListVariables(ctx context.Context, workflowID uuid.UUID) ([]*workflow.Variable, error) {
	return s.st.ListVariables(ctx, workflowID)
}

// DeleteVariable removes a variable.
func (s *Service) DeleteVariable(ctx context.Context, workflowID uuid.UUID, key string) error {
	return s.st.DeleteVariable(ctx, workflowID, key)
}

// SetSecret encrypts and stores a secret value in the given scope.
func (s *Service) SetSecret(ctx context.Context, workflowID uuid.UUID, key, plaintext, description string) (*workflow.Secret, error) {
	if s.cipher == nil {
		return nil, fmt.Errorf("no encryption key configured, refusing to store secret %q", key)
	}
	ciphertext, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sec := &workflow.Secret{
		ID:          uuid.New(),
		WorkflowID:  workflowID,
		Key:         key,
		Value:       ciphertext,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing, err := s.st.GetSecret(ctx, workflowID, key); err == nil {
		sec.ID = existing.ID
		sec.CreatedAt = existing.CreatedAt
	}
	if err := s.st.UpsertSecret(ctx, sec); err != nil {
		return nil, fmt.Errorf("store secret %q: %w", key, err)
	}
	return sec, nil
}

// GetSecretValue decrypts and returns a secret's plaintext.
func (s *Service) GetSecretValue(ctx context.Context, workflowID uuid.UUID, key string) (string, error) {
	if s.cipher == nil {
		return "", fmt.Errorf("no encryption key configured")
	}
	sec, err := s.st.GetSecret(ctx, workflowID, key)
	if err != nil {
		return "", err
	}
	plaintext, err := s.cipher.Decrypt(sec.Value)
	if err != nil {
		return "", fmt.Errorf("secret %q: %w", key, err)
	}
	return plaintext, nil
}

// ListSecrets lists secret metadata. Values stay encrypted and the
// model's JSON form omits them entirely.
func (s *Service) ListSecrets(ctx context.Context, workflowID uuid.UUID) ([]*workflow.Secret, error) {
	return s.st.ListSecrets(ctx, workflowID)
}

// DeleteSecret removes a secret.
func (s *Service) DeleteSecret(ctx context.Context, workflowID uuid.UUID, key string) error {
	return s.st.DeleteSecret(ctx, workflowID, key)
}
