// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package integrations

import (
	"context"
	"fmt"

	"github.com/mirrorkeep/cleanup-engine/internal/apierr"
	"github.com/mirrorkeep/cleanup-engine/internal/config"
	"github.com/mirrorkeep/cleanup-engine/internal/logging"
	"github.com/mirrorkeep/cleanup-engine/internal/mirror"
	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

var securityLogger = logging.NewSecurityLogger()

// Bundle is the set of clients available for one (owner, server) pair.
// TDL, MDL, RQP and AHS are nil when the owner has not configured that
// companion service for the server.
type Bundle struct {
	Server *models.Server
	MS     *MSClient
	TDL    *TDLClient
	MDL    *MDLClient
	RQP    *RQPClient
	AHS    *AHSClient
}

// Factory resolves a Server + its Integrations into live clients,
// decrypting stored credentials on demand. One Factory is shared across
// every owner and server; it holds no per-server state itself.
type Factory struct {
	store     *mirror.Store
	encryptor *config.CredentialEncryptor
	transport *Transport
}

// NewFactory builds a Factory backed by store for credential/endpoint
// lookups, encryptor for decrypting them, and a shared transport whose
// per-host circuit breakers and concurrency limiter apply across every
// resolved client.
func NewFactory(store *mirror.Store, encryptor *config.CredentialEncryptor, transport *Transport) *Factory {
	return &Factory{store: store, encryptor: encryptor, transport: transport}
}

// Resolve loads the server and its configured integrations for owner and
// builds a Bundle of clients against their preferred connection URL (or
// base URL, for companion services, which do not undergo MS's
// multi-candidate connection probe).
func (f *Factory) Resolve(ctx context.Context, owner, serverID string) (*Bundle, error) {
	server, err := f.store.GetServer(ctx, owner, serverID)
	if err != nil {
		return nil, err
	}

	if server.PreferredConnectionURL == nil || *server.PreferredConnectionURL == "" {
		return nil, apierr.ValidationError(fmt.Sprintf("server %s has no probed connection URL yet", serverID), nil)
	}
	msToken, err := f.encryptor.Decrypt(server.AuthTokenCiphertext)
	if err != nil {
		securityLogger.LogCredentialDecryptionFailed(owner, serverID, "server_auth_token")
		return nil, fmt.Errorf("integrations: decrypt server token: %w", err)
	}
	msURL := *server.PreferredConnectionURL

	bundle := &Bundle{
		Server: server,
		MS:     NewMSClient(f.transport, msURL, msToken),
	}

	integrationRows, err := f.store.ListIntegrations(ctx, owner, serverID)
	if err != nil {
		return nil, fmt.Errorf("integrations: list integrations: %w", err)
	}

	for _, in := range integrationRows {
		if in.Status == models.IntegrationInactive {
			continue
		}
		apiKey, err := f.encryptor.Decrypt(in.APIKeyCiphertext)
		if err != nil {
			securityLogger.LogCredentialDecryptionFailed(owner, in.ID, string(in.Service))
			return nil, fmt.Errorf("integrations: decrypt %s key: %w", in.Service, err)
		}
		switch in.Service {
		case models.ServiceAHS:
			bundle.AHS = NewAHSClient(f.transport, in.BaseURL, apiKey)
		case models.ServiceTDL:
			bundle.TDL = NewTDLClient(f.transport, in.BaseURL, apiKey)
		case models.ServiceMDL:
			bundle.MDL = NewMDLClient(f.transport, in.BaseURL, apiKey)
		case models.ServiceRQP:
			bundle.RQP = NewRQPClient(f.transport, in.BaseURL, apiKey)
		}
	}

	return bundle, nil
}
