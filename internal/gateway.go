// Package gateway holds the domain types and cross-cutting context helpers
// shared by every other package in the module: accounts, keys, prices,
// usage records, the provider Driver contract, and request-scoped context
// plumbing (request ID, resolved identity). This package has no project
// imports -- it is the dependency root.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"
)

// APIKeyPrefix is prepended to every gateway-issued bearer key.
const APIKeyPrefix = "gw-"

// HashKey returns the hex-encoded SHA-256 digest of a raw bearer key.
// Only the hash is ever persisted; the plaintext is shown once at creation.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// BudgetPeriod names the window over which an account's spend is tracked.
// Only BudgetPeriodTotal is functionally enforced today; the others are
// recorded but never reset (see DESIGN.md Open Questions).
type BudgetPeriod string

const (
	BudgetPeriodDaily   BudgetPeriod = "daily"
	BudgetPeriodWeekly  BudgetPeriod = "weekly"
	BudgetPeriodMonthly BudgetPeriod = "monthly"
	BudgetPeriodTotal   BudgetPeriod = "total"
)

// Account is a billing tenant identified by UserID.
type Account struct {
	UserID       string       `json:"user_id"`
	DisplayName  string       `json:"display_name,omitempty"`
	BudgetUSD    float64      `json:"budget_usd"`
	SpentUSD     float64      `json:"spent_usd"`
	BudgetPeriod BudgetPeriod `json:"budget_period"`
	IsActive     bool         `json:"is_active"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Remaining returns max(0, budget - spent).
func (a *Account) Remaining() float64 {
	r := a.BudgetUSD - a.SpentUSD
	if r < 0 {
		return 0
	}
	return r
}

// OverBudget reports whether the account has spent at least its budget.
func (a *Account) OverBudget() bool {
	return a.SpentUSD >= a.BudgetUSD
}

// APIKey is a bearer credential bound to an Account.
type APIKey struct {
	KeyHash       string    `json:"-"`
	KeyPrefix     string    `json:"key_prefix"`
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	IsActive      bool      `json:"is_active"`
	AllowedModels []string  `json:"allowed_models,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsModelAllowed reports whether model may be used with this key.
// An empty allow-list means every model is allowed.
func (k *APIKey) IsModelAllowed(model string) bool {
	if len(k.AllowedModels) == 0 || model == "" {
		return true
	}
	for _, m := range k.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

// ModelPrice holds the per-million-token USD rates for one model.
type ModelPrice struct {
	ModelName      string  `json:"model_name"`
	Provider       string  `json:"provider"`
	InputRate      float64 `json:"input_rate"`
	OutputRate     float64 `json:"output_rate"`
	CacheReadRate  float64 `json:"cache_read_rate"`
	CacheWriteRate float64 `json:"cache_write_rate"`
}

// Usage is the four-tuple of tokens attributable to a single completion.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	// Estimated marks usage reconstructed by the streaming fallback
	// estimator rather than reported by the upstream.
	Estimated bool
}

// TotalTokens returns InputTokens + OutputTokens, per the total_tokens
// invariant (cache tokens are priced but not counted in the total).
func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// UsageLog is one immutable, append-only billing record.
type UsageLog struct {
	ID               string
	UserID           string
	KeyPrefix        string
	Model            string
	Endpoint         string
	IP               string
	Timestamp        time.Time
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	TotalTokens      int64
	CostUSD          float64
	IsCacheHit       bool
	IsEstimated      bool
	ProcessingMs     int64
	ErrorMessage     string
	RequestSnapshot  []byte
	ResponseSnapshot []byte
}

// EndpointFamily names one of the three fixed upstream wire shapes the
// gateway understands. The registry is keyed by this closed set; model
// names never select a driver.
type EndpointFamily string

const (
	FamilyOpenAIChat        EndpointFamily = "openai_chat"
	FamilyOpenAIResponses   EndpointFamily = "openai_responses"
	FamilyAnthropicMessages EndpointFamily = "anthropic_messages"
)

// Driver is implemented once per upstream family (C5). It is a
// near-transparent proxy: request bodies are forwarded unmodified save for
// the stream flag and upstream-mandated auth headers; response bytes are
// never reformatted across families.
type Driver interface {
	Family() EndpointFamily

	// ForwardUnary sends body to the upstream and returns its status code,
	// raw response body, and the usage parsed from that body's JSON.
	ForwardUnary(ctx context.Context, body []byte) (status int, respBody []byte, usage Usage, err error)

	// ForwardStream sends body to the upstream with streaming enabled. Once
	// the upstream actually accepts the request (its response is 2xx),
	// onAccept is called so the caller can commit the client's response
	// status and headers; only then does ForwardStream write SSE frames to
	// w, flushing after every frame. If the upstream rejects the request,
	// onAccept is never invoked and ForwardStream returns an error carrying
	// the upstream's status for classification -- no bytes reach w. It
	// returns the usage reconstructed from in-band events (or the
	// word-count fallback estimate) once the stream reaches terminal
	// disposition.
	ForwardStream(ctx context.Context, body []byte, w io.Writer, flush func(), onAccept func()) (usage Usage, err error)
}

// --- request-scoped context ---

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyIdentity
)

// Identity is the resolved (key, account) pair attached to the context by
// the C4 gate once a bearer key has authenticated.
type Identity struct {
	Key     *APIKey
	Account *Account
}

// Authenticator resolves a client request's bearer key into an Identity.
// Implemented by auth.Gate.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}

// ContextWithRequestID returns a copy of ctx carrying id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext returns the request ID stored in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// ContextWithIdentity returns a copy of ctx carrying identity.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, identity)
}

// IdentityFromContext returns the Identity stored in ctx, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(ctxKeyIdentity).(*Identity)
	return id
}
