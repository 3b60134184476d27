package routes

import (
	"context"
	"fmt"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"github.com/portside-io/portside/backend/internal/crypto"
	"github.com/portside-io/portside/backend/internal/gateway"
	"github.com/portside-io/portside/backend/internal/sshconn"
)

// Store resolves wire-level connection ids to connection profiles, decrypting
// credentials at the single point of use. Nothing else in the backend ever
// sees a plaintext secret.
type Store struct {
	app core.App
}

func NewStore(app core.App) *Store {
	return &Store{app: app}
}

func (s *Store) Profile(_ context.Context, connectionID int) (*gateway.Profile, error) {
	record, err := s.app.FindFirstRecordByFilter(
		"connections",
		"conn_id = {:id}",
		dbx.Params{"id": connectionID},
	)
	if err != nil {
		return nil, fmt.Errorf("connection %d not found", connectionID)
	}

	p := &gateway.Profile{
		ConnectionID: connectionID,
		Name:         record.GetString("name"),
		Protocol:     record.GetString("protocol"),
		Host:         record.GetString("host"),
		Port:         record.GetInt("port"),
		Username:     record.GetString("username"),
		AuthMethod:   record.GetString("auth_type"),
		Shell:        record.GetString("shell"),
	}
	if p.Protocol == "" {
		p.Protocol = gateway.ProtocolSSH
	}

	if secretID := record.GetString("secret"); secretID != "" {
		if err := s.applySecret(p, secretID); err != nil {
			return nil, err
		}
	}
	if proxyID := record.GetString("proxy"); proxyID != "" {
		proxy, err := s.loadProxy(proxyID)
		if err != nil {
			return nil, fmt.Errorf("connection %d: %w", connectionID, err)
		}
		p.Proxy = proxy
	}
	return p, nil
}

func (s *Store) applySecret(p *gateway.Profile, secretID string) error {
	secret, err := s.app.FindRecordById("secrets", secretID)
	if err != nil {
		return fmt.Errorf("connection %d: credential record missing", p.ConnectionID)
	}
	value, err := crypto.Decrypt(secret.GetString("value"))
	if err != nil {
		return fmt.Errorf("connection %d: decrypt credential: %w", p.ConnectionID, err)
	}
	switch p.AuthMethod {
	case "key":
		p.PrivateKey = value
		if enc := secret.GetString("passphrase"); enc != "" {
			passphrase, err := crypto.Decrypt(enc)
			if err != nil {
				return fmt.Errorf("connection %d: decrypt passphrase: %w", p.ConnectionID, err)
			}
			p.Passphrase = passphrase
		}
	default:
		p.Password = value
	}
	return nil
}

func (s *Store) loadProxy(proxyID string) (*sshconn.Proxy, error) {
	record, err := s.app.FindRecordById("proxies", proxyID)
	if err != nil {
		return nil, fmt.Errorf("proxy record missing")
	}
	proxy := &sshconn.Proxy{
		Kind:     record.GetString("type"),
		Host:     record.GetString("host"),
		Port:     record.GetInt("port"),
		Username: record.GetString("username"),
	}
	if enc := record.GetString("password"); enc != "" {
		password, err := crypto.Decrypt(enc)
		if err != nil {
			return nil, fmt.Errorf("decrypt proxy password: %w", err)
		}
		proxy.Password = password
	}
	return proxy, nil
}
