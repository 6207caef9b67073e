// Package apikeys resolves per-user brokerage clients from the credentials
// stored in Vault. Clients are cached so users keep their broker session
// (and its token) across ticks.
package apikeys

import (
	"context"
	"fmt"
	"sync"

	"github.com/kyu1204/kingsick-mk4-sub000/internal/broker"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/broker/kis"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/logging"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/vault"
)

// CredentialSource reads and writes brokerage credentials.
type CredentialSource interface {
	GetCredentials(ctx context.Context, userID int64) (*vault.BrokerCredentials, error)
	StoreCredentials(ctx context.Context, userID int64, creds vault.BrokerCredentials) error
	DeleteCredentials(ctx context.Context, userID int64) error
	InvalidateUser(userID int64)
}

// Service hands out broker clients keyed by user. It implements the trading
// engine's BrokerFactory.
type Service struct {
	source CredentialSource
	log    *logging.Logger

	mu      sync.Mutex
	clients map[int64]broker.Client
}

// NewService creates a credential service over a source.
func NewService(source CredentialSource, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Default()
	}
	return &Service{
		source:  source,
		log:     log.WithComponent("apikeys"),
		clients: make(map[int64]broker.Client),
	}
}

// ClientFor returns the user's broker client, building one on first use.
func (s *Service) ClientFor(ctx context.Context, userID int64) (broker.Client, error) {
	s.mu.Lock()
	if client, ok := s.clients[userID]; ok {
		s.mu.Unlock()
		return client, nil
	}
	s.mu.Unlock()

	creds, err := s.source.GetCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("credentials for user %d: %w", userID, err)
	}
	if creds.AppKey == "" || creds.AppSecret == "" {
		return nil, fmt.Errorf("incomplete credentials for user %d", userID)
	}

	client := kis.NewClient(kis.Config{
		AppKey:    creds.AppKey,
		AppSecret: creds.AppSecret,
		AccountNo: creds.AccountNo,
		Sandbox:   creds.Sandbox,
	}, s.log)

	s.mu.Lock()
	if existing, ok := s.clients[userID]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.clients[userID] = client
	s.mu.Unlock()

	s.log.Info("broker client created", "user_id", userID, "sandbox", creds.Sandbox)
	return client, nil
}

// SetClient installs a pre-built client for a user. Used by tests and by
// dry-run deployments that substitute the mock broker.
func (s *Service) SetClient(userID int64, client broker.Client) {
	s.mu.Lock()
	s.clients[userID] = client
	s.mu.Unlock()
}

// UpdateCredentials replaces a user's credentials and drops their cached
// client so the next tick builds a fresh session.
func (s *Service) UpdateCredentials(ctx context.Context, userID int64, creds vault.BrokerCredentials) error {
	if err := s.source.StoreCredentials(ctx, userID, creds); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.clients, userID)
	s.mu.Unlock()
	return nil
}

// RemoveCredentials deletes a user's credentials and evicts their client.
func (s *Service) RemoveCredentials(ctx context.Context, userID int64) error {
	if err := s.source.DeleteCredentials(ctx, userID); err != nil {
		return err
	}
	s.source.InvalidateUser(userID)
	s.mu.Lock()
	delete(s.clients, userID)
	s.mu.Unlock()
	return nil
}
