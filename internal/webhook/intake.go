// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package webhook

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mirrorkeep/cleanup-engine/internal/config"
	"github.com/mirrorkeep/cleanup-engine/internal/logging"
	"github.com/mirrorkeep/cleanup-engine/internal/mirror"
	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

// maxPayloadBytes caps a single webhook body at 64KiB; larger bodies are
// rejected with 413 before they are read in full.
const maxPayloadBytes = 64 * 1024

var securityLogger = logging.NewSecurityLogger()

// SecretResolver looks up the decrypted webhook secret configured for a
// server, used to validate an inbound request in constant time.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, owner, serverID string) (string, bool, error)
}

// storeSecretResolver adapts mirror.Store + the credential encryptor into
// a SecretResolver.
type storeSecretResolver struct {
	store     *mirror.Store
	encryptor *config.CredentialEncryptor
}

// NewStoreSecretResolver builds a SecretResolver backed by the mirror's
// server directory.
func NewStoreSecretResolver(store *mirror.Store, encryptor *config.CredentialEncryptor) SecretResolver {
	return &storeSecretResolver{store: store, encryptor: encryptor}
}

func (r *storeSecretResolver) ResolveSecret(ctx context.Context, owner, serverID string) (string, bool, error) {
	server, err := r.store.GetServer(ctx, owner, serverID)
	if err != nil {
		return "", false, err
	}
	if server.WebhookSecretCiphertext == "" {
		return "", false, nil
	}
	secret, err := r.encryptor.Decrypt(server.WebhookSecretCiphertext)
	if err != nil {
		return "", false, err
	}
	return secret, true, nil
}

// Intake is the HTTP handler for /owners/{owner}/servers/{serverID}/webhooks/{service}.
type Intake struct {
	store   *mirror.Store
	secrets SecretResolver
	bus     *EventBus
}

// NewIntake builds an Intake handler. Accepted notifications are handed
// to bus.Publish rather than dispatched inline, so the HTTP response
// never waits on a debounce timer or a mirror write.
func NewIntake(store *mirror.Store, secrets SecretResolver, bus *EventBus) *Intake {
	return &Intake{store: store, secrets: secrets, bus: bus}
}

// Routes mounts the intake handler under its chi subrouter.
func (in *Intake) Routes(r chi.Router) {
	r.Post("/owners/{owner}/servers/{serverID}/webhooks/{service}", in.handle)
}

func (in *Intake) handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := chi.URLParam(r, "owner")
	serverID := chi.URLParam(r, "serverID")
	service := models.IntegrationService(chi.URLParam(r, "service"))

	if r.ContentLength > maxPayloadBytes {
		in.record(ctx, owner, service, nil, models.WebhookRejectedSize)
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if len(body) > maxPayloadBytes {
		in.record(ctx, owner, service, nil, models.WebhookRejectedSize)
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	if !in.validSecret(ctx, owner, serverID, r) {
		// authentication failures return 204 with no body, revealing
		// nothing about why the request was rejected.
		securityLogger.LogWebhookSignatureInvalid(string(service), r.RemoteAddr, r.UserAgent())
		in.record(ctx, owner, service, body, models.WebhookRejectedSignature)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	securityLogger.LogWebhookSignatureValid(owner, string(service), r.RemoteAddr)

	notification, ok := parsePayload(owner, serverID, service, body)
	if !ok {
		in.record(ctx, owner, service, body, models.WebhookProcessed)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	action := "published"
	if err := in.bus.Publish(ctx, notification); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("owner", owner).Msg("webhook: publish notification")
		action = "publish_failed"
	}
	in.recordWithAction(ctx, owner, service, body, models.WebhookProcessed, action)

	w.WriteHeader(http.StatusNoContent)
}

func (in *Intake) validSecret(ctx context.Context, owner, serverID string, r *http.Request) bool {
	expected, ok, err := in.secrets.ResolveSecret(ctx, owner, serverID)
	if err != nil || !ok {
		return false
	}
	presented := r.Header.Get("X-Webhook-Secret")
	if presented == "" {
		presented = r.URL.Query().Get("secret")
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

func (in *Intake) record(ctx context.Context, owner string, service models.IntegrationService, body []byte, status models.WebhookEventProcessingStatus) {
	in.recordWithAction(ctx, owner, service, body, status, "")
}

func (in *Intake) recordWithAction(ctx context.Context, owner string, service models.IntegrationService, body []byte, status models.WebhookEventProcessingStatus, action string) {
	hash := sha256.Sum256(body)
	event := models.WebhookEvent{
		Owner:            owner,
		Service:          service,
		PayloadHash:      hex.EncodeToString(hash[:]),
		ProcessingStatus: status,
		ReceivedAt:       time.Now().UTC(),
	}
	if action != "" {
		event.ActionsTriggered = []string{action}
	}
	if _, err := in.store.InsertWebhookEvent(ctx, event); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("owner", owner).Msg("webhook: record intake")
	}
}
