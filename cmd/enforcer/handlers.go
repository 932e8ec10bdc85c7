package main

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"spal/pkg/audit"
	"spal/pkg/codec"
	"spal/pkg/enforce"
	"spal/pkg/events"
	"spal/pkg/httpx"
	"spal/pkg/metrics"
	"spal/pkg/models"
	"spal/pkg/ratelimit"
	"spal/pkg/registry"
	"spal/pkg/script"
	"spal/pkg/stream"
)

type enforcerDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type decisionPublisher interface {
	Publish(ctx context.Context, d events.Decision) error
}

type Server struct {
	Registry            *registry.Registry
	Audit               *audit.Writer
	Metrics             *metrics.Registry
	Hub                 *stream.Hub
	Limiter             ratelimit.Limiter
	Events              decisionPublisher
	Script              script.Reference
	ValidateRateLimit   int
	EphemeralSchemes    []string
	AdminToken          string
	MaxRequestBodyBytes int64
}

// healthz reports liveness plus the loaded validator's content hash, so
// environments can be compared for validator drift with two curl calls.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok", "service": "enforcer"}
	if !s.Script.Empty() {
		body["script_hash"] = s.Script.Hash()
	}
	httpx.WriteJSON(w, 200, body)
}

type policyBody struct {
	ID                string                 `json:"id"`
	OwnerPKH          string                 `json:"owner_pkh"`
	MinPayment        uint64                 `json:"min_payment"`
	MaxRetentionMs    uint64                 `json:"max_retention_ms"`
	IdentityLinkage   models.IdentityLinkage `json:"identity_linkage"`
	RequiredProofHash string                 `json:"required_proof_hash"`
	ContextScope      string                 `json:"context_scope"`
	Anchor            string                 `json:"anchor"`
}

type policyView struct {
	ID                string                 `json:"id"`
	OwnerPKH          string                 `json:"owner_pkh"`
	MinPayment        uint64                 `json:"min_payment"`
	MaxRetentionMs    uint64                 `json:"max_retention_ms"`
	IdentityLinkage   models.IdentityLinkage `json:"identity_linkage"`
	RequiredProofHash string                 `json:"required_proof_hash,omitempty"`
	ContextScope      string                 `json:"context_scope"`
	Datum             string                 `json:"datum"`
	Anchor            string                 `json:"anchor,omitempty"`
}

func viewOf(p models.Policy, datum []byte, anchor string) policyView {
	return policyView{
		ID:                p.ID,
		OwnerPKH:          p.OwnerPKH.String(),
		MinPayment:        p.MinPayment,
		MaxRetentionMs:    p.MaxRetentionMs,
		IdentityLinkage:   p.IdentityLinkage,
		RequiredProofHash: hex.EncodeToString(p.RequiredProofHash),
		ContextScope:      p.ContextScope,
		Datum:             hex.EncodeToString(datum),
		Anchor:            anchor,
	}
}

func (b policyBody) toPolicy() (models.Policy, error) {
	owner, err := models.ParseKeyHash(b.OwnerPKH)
	if err != nil {
		return models.Policy{}, err
	}
	var proofHash []byte
	if s := strings.TrimSpace(b.RequiredProofHash); s != "" {
		proofHash, err = hex.DecodeString(s)
		if err != nil {
			return models.Policy{}, errors.New("required_proof_hash must be hex")
		}
	}
	return models.Policy{
		ID:                strings.TrimSpace(b.ID),
		OwnerPKH:          owner,
		MinPayment:        b.MinPayment,
		MaxRetentionMs:    b.MaxRetentionMs,
		IdentityLinkage:   b.IdentityLinkage,
		RequiredProofHash: proofHash,
		ContextScope:      b.ContextScope,
	}, nil
}

func (s *Server) publishPolicy(w http.ResponseWriter, r *http.Request) {
	var body policyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if body.ID == "" {
		body.ID = uuid.New().String()
	}
	p, err := body.toPolicy()
	if err != nil {
		httpx.Error(w, 400, err.Error())
		return
	}
	datum, err := s.Registry.Publish(r.Context(), p, strings.TrimSpace(body.Anchor))
	if err != nil {
		internalServerError(w, "publish policy", err)
		return
	}
	s.Hub.Publish(stream.NewEvent(stream.EventPolicyPublished, map[string]string{"id": p.ID}))
	httpx.WriteJSON(w, 201, viewOf(p, datum, body.Anchor))
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	entry, err := s.Registry.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, registry.ErrNotFound) {
		httpx.Error(w, 404, "policy not found")
		return
	}
	if err != nil {
		internalServerError(w, "get policy", err)
		return
	}
	httpx.WriteJSON(w, 200, viewOf(entry.Policy, entry.Datum, entry.Anchor))
}

func (s *Server) listPolicies(w http.ResponseWriter, r *http.Request) {
	ownerHex := strings.TrimSpace(r.URL.Query().Get("owner"))
	if ownerHex == "" {
		httpx.Error(w, 400, "owner query parameter required")
		return
	}
	owner, err := models.ParseKeyHash(ownerHex)
	if err != nil {
		httpx.Error(w, 400, err.Error())
		return
	}
	ids, err := s.Registry.ListByOwner(r.Context(), owner)
	if err != nil {
		internalServerError(w, "list policies", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	httpx.WriteJSON(w, 200, map[string][]string{"ids": ids})
}

func (s *Server) deletePolicy(w http.ResponseWriter, r *http.Request) {
	err := s.Registry.Delete(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, registry.ErrNotFound) {
		httpx.Error(w, 404, "policy not found")
		return
	}
	if err != nil {
		internalServerError(w, "delete policy", err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]string{"status": "deleted"})
}

type validateBody struct {
	PolicyID string `json:"policy_id"`
	Datum    string `json:"datum"`
	Redeemer string `json:"redeemer"`
	Request  *struct {
		RequesterDID   string `json:"requester_did"`
		ProofReference string `json:"proof_reference"`
		AccessTime     uint64 `json:"access_time"`
		PaymentAmount  uint64 `json:"payment_amount"`
	} `json:"request"`
}

// validateRequest mirrors the on-chain predicate. A malformed datum or
// redeemer is a 400 (garbage input, discard); a well-formed pair that the
// policy rejects is a 200 with valid=false (explain and retry). The two
// must never be conflated.
func (s *Server) validateRequest(w http.ResponseWriter, r *http.Request) {
	var body validateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}

	var (
		p     models.Policy
		err   error
		entry registry.Entry
	)
	switch {
	case strings.TrimSpace(body.PolicyID) != "":
		entry, err = s.Registry.Get(r.Context(), body.PolicyID)
		if errors.Is(err, registry.ErrNotFound) {
			httpx.Error(w, 404, "policy not found")
			return
		}
		if err != nil {
			internalServerError(w, "load policy", err)
			return
		}
		p = entry.Policy
	case strings.TrimSpace(body.Datum) != "":
		raw, hexErr := hex.DecodeString(strings.TrimSpace(body.Datum))
		if hexErr != nil {
			httpx.Error(w, 400, "datum must be hex")
			return
		}
		p, err = codec.DecodePolicy(raw)
		if err != nil {
			s.rejectMalformed(w, "datum", err)
			return
		}
	default:
		httpx.Error(w, 400, "policy_id or datum required")
		return
	}

	var req models.AccessRequest
	switch {
	case strings.TrimSpace(body.Redeemer) != "":
		raw, hexErr := hex.DecodeString(strings.TrimSpace(body.Redeemer))
		if hexErr != nil {
			httpx.Error(w, 400, "redeemer must be hex")
			return
		}
		req, err = codec.DecodeRequest(raw)
		if err != nil {
			s.rejectMalformed(w, "redeemer", err)
			return
		}
	case body.Request != nil:
		req = models.AccessRequest{
			RequesterDID:   body.Request.RequesterDID,
			ProofReference: body.Request.ProofReference,
			AccessTime:     body.Request.AccessTime,
			PaymentAmount:  body.Request.PaymentAmount,
		}
	default:
		httpx.Error(w, 400, "request or redeemer required")
		return
	}

	if s.Limiter != nil && s.ValidateRateLimit > 0 {
		if d := s.Limiter.Allow(req.RequesterDID, s.ValidateRateLimit); !d.Allowed {
			httpx.Error(w, 429, "rate limit exceeded")
			return
		}
	}

	outcome := enforce.EvaluateWithOptions(p, req, enforce.Options{EphemeralSchemes: s.EphemeralSchemes})
	s.Metrics.ObserveOutcome(outcome.Valid, outcome.Reason)

	decisionID := uuid.New().String()
	now := time.Now().UTC()
	if s.Audit != nil {
		rec := audit.Record{
			DecisionID:   decisionID,
			PolicyID:     p.ID,
			RequesterDID: req.RequesterDID,
			ProofRef:     req.ProofReference,
			Valid:        outcome.Valid,
			Reason:       outcome.Reason,
			CreatedAt:    now,
		}
		if err := s.Audit.Append(r.Context(), rec); err != nil {
			internalServerError(w, "audit decision", err)
			return
		}
	}
	decision := events.Decision{
		DecisionID: decisionID,
		PolicyID:   p.ID,
		Valid:      outcome.Valid,
		Reason:     outcome.Reason,
		At:         now.Format(time.RFC3339Nano),
	}
	if s.Events != nil {
		if err := s.Events.Publish(r.Context(), decision); err != nil {
			// Event delivery is best-effort: the decision is already audited.
			s.Metrics.SetGauge("events_publish_errors", 1)
		}
	}
	s.Hub.Publish(stream.NewEvent(stream.EventDecision, decision))

	httpx.WriteJSON(w, 200, map[string]interface{}{
		"decision_id": decisionID,
		"valid":       outcome.Valid,
		"reason":      outcome.Reason,
	})
}

type decodeBody struct {
	Datum string `json:"datum"`
}

func (s *Server) decodeDatum(w http.ResponseWriter, r *http.Request) {
	var body decodeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	raw, err := hex.DecodeString(strings.TrimSpace(body.Datum))
	if err != nil {
		httpx.Error(w, 400, "datum must be hex")
		return
	}
	p, err := codec.DecodePolicy(raw)
	if err != nil {
		s.rejectMalformed(w, "datum", err)
		return
	}
	httpx.WriteJSON(w, 200, viewOf(p, raw, ""))
}

func (s *Server) streamDecisions(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	ch := s.Hub.Subscribe(64)
	defer s.Hub.Unsubscribe(ch)
	ctx := r.Context()
	readyCtx, cancelReady := context.WithTimeout(ctx, 5*time.Second)
	err = wsjson.Write(readyCtx, conn, stream.NewEvent("ready", nil))
	cancelReady()
	if err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// rejectMalformed answers a 400 for garbage wire bytes, exposing the layout
// failure kind when there is one.
func (s *Server) rejectMalformed(w http.ResponseWriter, what string, err error) {
	kind := "MALFORMED"
	if de, ok := codec.IsDecodeError(err); ok {
		kind = string(de.Kind)
	}
	s.Metrics.ObserveDecodeReject(kind)
	httpx.ErrorKind(w, 400, "malformed "+what, kind)
}

func (s *Server) withAdminToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminToken == "" {
			next(w, r)
			return
		}
		got := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.AdminToken)) != 1 {
			httpx.Error(w, 401, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func internalServerError(w http.ResponseWriter, action string, err error) {
	// Log the cause, answer with a generic message.
	log.Printf("enforcer: %s: %v", action, err)
	httpx.Error(w, 500, "internal error")
}

func newPublisherFromEnv() (*events.Publisher, error) {
	brokers := splitList(env("KAFKA_BROKERS", ""))
	if len(brokers) == 0 {
		return nil, nil
	}
	return events.NewPublisher(events.KafkaConfig{
		Brokers: brokers,
		Topic:   env("KAFKA_DECISIONS_TOPIC", "spal.decisions"),
	})
}
