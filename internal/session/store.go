package session

import (
	"context"
	"fmt"

	"github.com/yungbote/repairguide-backend/internal/domain"
)

// CredentialKey is the fixed key the API key lives under in a session's scope.
const CredentialKey = "gemini_api_key"

// KV is a session-scoped string store.
type KV interface {
	Get(ctx context.Context, session, key string) (string, bool, error)
	Set(ctx context.Context, session, key, value string) error
	Remove(ctx context.Context, session, key string) error
}

// CredentialStore binds a KV to one session's credential.
type CredentialStore struct {
	kv      KV
	session string
}

func NewCredentialStore(kv KV, session string) *CredentialStore {
	return &CredentialStore{kv: kv, session: session}
}

func (s *CredentialStore) Load(ctx context.Context) (domain.Credential, error) {
	if s == nil || s.kv == nil {
		return "", nil
	}
	v, ok, err := s.kv.Get(ctx, s.session, CredentialKey)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if !ok {
		return "", nil
	}
	return domain.Credential(v), nil
}

func (s *CredentialStore) Save(ctx context.Context, cred domain.Credential) error {
	if s == nil || s.kv == nil {
		return nil
	}
	if err := s.kv.Set(ctx, s.session, CredentialKey, cred.Reveal()); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) Clear(ctx context.Context) error {
	if s == nil || s.kv == nil {
		return nil
	}
	if err := s.kv.Remove(ctx, s.session, CredentialKey); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}
