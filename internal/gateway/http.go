package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dalepay/wallet-movements/internal/domain"
	"github.com/dalepay/wallet-movements/internal/observability"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const maxErrorBody = 64 << 10

// HTTPConfig configures the REST client for the payments backend.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// BreakerFailures consecutive infrastructure failures open the breaker
	// for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// HTTPExecutor submits movements to the payments backend over REST/JSON.
type HTTPExecutor struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	now     func() time.Time
}

func NewHTTPExecutor(cfg HTTPConfig, client *http.Client, logger *zap.Logger) *HTTPExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	e := &HTTPExecutor{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
		logger:  logger,
		now:     time.Now,
	}
	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payments-backend",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: countsAsHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("executor circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			observability.SetBreakerState(name, breakerGaugeValue(to))
		},
	})
	observability.SetBreakerState("payments-backend", 0)
	return e
}

type executeRequest struct {
	RequestID  uuid.UUID          `json:"request_id"`
	AccountID  string             `json:"account_id"`
	Kind       string             `json:"kind"`
	Amount     domain.Money       `json:"amount"`
	Fee        domain.Money       `json:"fee"`
	Total      domain.Money       `json:"total"`
	Currency   string             `json:"currency"`
	Speed      string             `json:"speed,omitempty"`
	Recipient  string             `json:"recipient,omitempty"`
	Instrument *instrumentPayload `json:"instrument,omitempty"`
}

type instrumentPayload struct {
	Type       string `json:"type"`
	Last4      string `json:"last4"`
	HolderName string `json:"holder_name"`
	Token      string `json:"token,omitempty"`
}

type receiptResponse struct {
	Reference        string       `json:"reference"`
	TransactionID    string       `json:"transaction_id"`
	Amount           domain.Money `json:"amount"`
	Fee              domain.Money `json:"fee"`
	NetAmount        domain.Money `json:"net_amount"`
	Status           string       `json:"status"`
	EstimatedArrival string       `json:"estimated_arrival"`
	SettledAt        *time.Time   `json:"settled_at"`
}

// errorResponse covers RFC 7807 documents and {"detail": ...} bodies.
type errorResponse struct {
	Type   string          `json:"type"`
	Title  string          `json:"title"`
	Code   string          `json:"code"`
	Detail json.RawMessage `json:"detail"`
}

func (e *HTTPExecutor) Execute(ctx context.Context, req domain.TransferRequest) (domain.SettlementReceipt, error) {
	out, err := e.breaker.Execute(func() (interface{}, error) {
		return e.send(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.SettlementReceipt{}, &domain.ExecutionError{
				Kind:   domain.ExecUnavailable,
				Code:   "circuit_open",
				Reason: "payments service is temporarily unavailable, please try again shortly",
			}
		}
		return domain.SettlementReceipt{}, err
	}
	return out.(domain.SettlementReceipt), nil
}

func (e *HTTPExecutor) send(ctx context.Context, req domain.TransferRequest) (domain.SettlementReceipt, error) {
	path, err := pathFor(req.Kind)
	if err != nil {
		return domain.SettlementReceipt{}, &domain.ExecutionError{Kind: domain.ExecUnexpected, Reason: err.Error()}
	}

	payload := executeRequest{
		RequestID: req.ID,
		AccountID: req.AccountID,
		Kind:      string(req.Kind),
		Amount:    req.Amount,
		Fee:       req.Fee,
		Total:     req.Total,
		Currency:  domain.Currency,
		Recipient: req.Recipient,
	}
	if req.Kind.UsesSpeed() {
		payload.Speed = string(req.Speed)
	}
	if req.Instrument != nil {
		payload.Instrument = &instrumentPayload{
			Type:       string(req.Instrument.Type),
			Last4:      req.Instrument.Last4,
			HolderName: req.Instrument.HolderName,
			Token:      req.Instrument.Token,
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.SettlementReceipt{}, &domain.ExecutionError{Kind: domain.ExecUnexpected, Reason: fmt.Sprintf("encode request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return domain.SettlementReceipt{}, &domain.ExecutionError{Kind: domain.ExecUnexpected, Reason: fmt.Sprintf("build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return domain.SettlementReceipt{}, transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var rr receiptResponse
		if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
			// the backend accepted the request; only the receipt is unreadable
			return domain.SettlementReceipt{}, &domain.ExecutionError{
				Kind:           domain.ExecUnexpected,
				Reason:         fmt.Sprintf("unreadable receipt from payments backend: %v", err),
				Status:         resp.StatusCode,
				OutcomeUnknown: true,
			}
		}
		return e.toReceipt(req, rr), nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	execErr := classify(resp.StatusCode, raw)
	e.logger.Info("payments backend declined movement",
		zap.String("movement_id", req.ID.String()),
		zap.Int("status", resp.StatusCode),
		zap.String("kind", string(execErr.Kind)),
		zap.String("code", execErr.Code),
	)
	return domain.SettlementReceipt{}, execErr
}

func (e *HTTPExecutor) toReceipt(req domain.TransferRequest, rr receiptResponse) domain.SettlementReceipt {
	ref := rr.Reference
	if ref == "" {
		ref = rr.TransactionID
	}
	receipt := domain.SettlementReceipt{
		Reference:        ref,
		RequestID:        req.ID,
		Amount:           rr.Amount,
		Fee:              rr.Fee,
		NetAmount:        rr.NetAmount,
		Status:           rr.Status,
		EstimatedArrival: rr.EstimatedArrival,
		SettledAt:        e.now(),
	}
	if receipt.Amount.IsZero() {
		receipt.Amount = req.Amount
		receipt.Fee = req.Fee
	}
	if receipt.NetAmount.IsZero() {
		receipt.NetAmount = receipt.Amount
	}
	if receipt.EstimatedArrival == "" {
		receipt.EstimatedArrival = EstimatedArrival(req.Kind, req.Speed)
	}
	if rr.SettledAt != nil {
		receipt.SettledAt = *rr.SettledAt
	}
	return receipt
}

func pathFor(kind domain.OperationKind) (string, error) {
	switch kind {
	case domain.KindPeerTransfer:
		return "/v1/transfers", nil
	case domain.KindCardFunding:
		return "/v1/funding/card", nil
	case domain.KindBankCashOut:
		return "/v1/cash-out", nil
	default:
		return "", fmt.Errorf("no backend route for kind %q", kind)
	}
}

// staleCodes are backend error codes for rejections that contradict a passed
// local check.
var staleCodes = map[string]bool{
	"insufficient_funds":     true,
	"insufficient_balance":   true,
	"daily_limit_exceeded":   true,
	"monthly_limit_exceeded": true,
	"limit_exceeded":         true,
	"identity_not_verified":  true,
	"kyc_required":           true,
	"verification_required":  true,
}

// staleMarkers are matched against the message only when the backend sent no code.
var staleMarkers = []string{"insufficient", "limit exceeded", "exceeds", "not verified", "verification required", "kyc"}

func isStale(code, reason string) bool {
	if code != "" {
		return staleCodes[strings.ReplaceAll(strings.ToLower(code), "-", "_")]
	}
	msg := strings.ToLower(reason)
	for _, marker := range staleMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func classify(status int, raw []byte) *domain.ExecutionError {
	code, reason := parseErrorBody(raw)
	if reason == "" {
		reason = http.StatusText(status)
	}
	out := &domain.ExecutionError{Code: code, Reason: reason, Status: status}

	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		out.Kind = domain.ExecTimeout
		out.OutcomeUnknown = true
	case status == http.StatusTooManyRequests:
		out.Kind = domain.ExecUnavailable
	case status >= 500:
		out.Kind = domain.ExecUnavailable
		out.OutcomeUnknown = status != http.StatusServiceUnavailable
	case status >= 400:
		out.Kind = domain.ExecRejected
		if isStale(code, reason) {
			out.Kind = domain.ExecStaleSnapshot
		}
	default:
		out.Kind = domain.ExecUnexpected
	}
	return out
}

func parseErrorBody(raw []byte) (code, reason string) {
	var body errorResponse
	if len(raw) == 0 || json.Unmarshal(raw, &body) != nil {
		return "", strings.TrimSpace(string(raw))
	}
	code = body.Code
	if code == "" && body.Type != "" {
		code = body.Type[strings.LastIndex(body.Type, "/")+1:]
	}

	var detail string
	if json.Unmarshal(body.Detail, &detail) == nil && detail != "" {
		return code, detail
	}
	// FastAPI validation errors: [{"msg": "..."}]
	var items []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(body.Detail, &items) == nil {
		msgs := make([]string, 0, len(items))
		for _, item := range items {
			if item.Msg != "" {
				msgs = append(msgs, item.Msg)
			}
		}
		if len(msgs) > 0 {
			return code, strings.Join(msgs, "; ")
		}
	}
	return code, body.Title
}

func transportError(ctx context.Context, err error) *domain.ExecutionError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()):
		return &domain.ExecutionError{
			Kind:           domain.ExecTimeout,
			Reason:         "the payments backend did not respond in time",
			OutcomeUnknown: true,
		}
	case errors.Is(err, context.Canceled):
		return &domain.ExecutionError{
			Kind:           domain.ExecNetwork,
			Reason:         "submission was cancelled before a response arrived",
			OutcomeUnknown: true,
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &domain.ExecutionError{Kind: domain.ExecNetwork, Reason: fmt.Sprintf("could not reach payments backend: %v", opErr.Err)}
	}
	return &domain.ExecutionError{
		Kind:           domain.ExecNetwork,
		Reason:         fmt.Sprintf("connection to payments backend failed: %v", err),
		OutcomeUnknown: true,
	}
}

// countsAsHealthy keeps business rejections from tripping the breaker.
func countsAsHealthy(err error) bool {
	if err == nil {
		return true
	}
	var execErr *domain.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind == domain.ExecRejected || execErr.Kind == domain.ExecStaleSnapshot
	}
	return false
}

func breakerGaugeValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
