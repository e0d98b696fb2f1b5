package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kitemq/kite/internal/idempotency"
	"github.com/kitemq/kite/messaging"
)

func succeed(data any) messaging.Handler {
	return func(context.Context, *messaging.Envelope) messaging.Result {
		return messaging.Success(data)
	}
}

func TestSignerRoundTrip(t *testing.T) {
	s := NewSigner("secret")
	sig := s.Sign("1700000000", []byte(`{"a":1}`))
	if !s.Verify("1700000000", []byte(`{"a":1}`), sig) {
		t.Error("valid signature should verify")
	}
	if s.Verify("1700000001", []byte(`{"a":1}`), sig) {
		t.Error("signature must cover the timestamp")
	}
	if s.Verify("1700000000", []byte(`{"a":2}`), sig) {
		t.Error("signature must cover the payload")
	}
	if NewSigner("other").Verify("1700000000", []byte(`{"a":1}`), sig) {
		t.Error("signature must depend on the secret")
	}
}

func TestSigningAcceptsSignedEnvelope(t *testing.T) {
	signer := NewSigner("secret")
	env, err := SignEnvelope(signer, messaging.NewCommand("pay", map[string]int{"amount": 5}))
	if err != nil {
		t.Fatal(err)
	}

	h := Signing(SigningConfig{Signer: signer, Require: true})(succeed("ok"))
	res := h(context.Background(), env)
	if !res.IsSuccess() {
		t.Fatalf("signed envelope should pass, got %v", res.Err())
	}
}

func TestSigningRejectsTamperedEnvelope(t *testing.T) {
	signer := NewSigner("secret")
	env, _ := SignEnvelope(signer, messaging.NewCommand("pay", map[string]int{"amount": 5}))
	env.Payload = map[string]int{"amount": 500}

	var invoked atomic.Int32
	h := Signing(SigningConfig{Signer: signer})(func(context.Context, *messaging.Envelope) messaging.Result {
		invoked.Add(1)
		return messaging.Success(nil)
	})
	res := h(context.Background(), env)
	if !res.IsFailure() || res.Err().Kind != messaging.ErrorKindSignatureInvalid {
		t.Fatalf("expected SIGNATURE_INVALID, got %+v", res)
	}
	if invoked.Load() != 0 {
		t.Error("handler must not run for a rejected message")
	}
}

func TestSigningRequireRejectsUnsigned(t *testing.T) {
	h := Signing(SigningConfig{Signer: NewSigner("secret"), Require: true})(succeed(nil))
	res := h(context.Background(), messaging.NewCommand("pay", nil))
	if !res.IsFailure() || res.Err().Code != "SIGNATURE_MISSING" {
		t.Errorf("expected SIGNATURE_MISSING, got %+v", res)
	}

	// without Require, unsigned messages pass through
	h = Signing(SigningConfig{Signer: NewSigner("secret")})(succeed(nil))
	if res := h(context.Background(), messaging.NewCommand("pay", nil)); !res.IsSuccess() {
		t.Errorf("unsigned message should pass without Require, got %v", res.Err())
	}
}

func TestValidationStructuralChecks(t *testing.T) {
	h := Validation(ValidationConfig{})(succeed(nil))

	env := messaging.NewCommand("pay", nil)
	env.ID = ""
	res := h(context.Background(), env)
	if !res.IsFailure() || res.Err().Kind != messaging.ErrorKindValidationFailed {
		t.Errorf("empty id should fail validation, got %+v", res)
	}
}

func TestValidationRejectsNilEnvelope(t *testing.T) {
	var invoked atomic.Int32
	h := Validation(ValidationConfig{})(func(context.Context, *messaging.Envelope) messaging.Result {
		invoked.Add(1)
		return messaging.Success(nil)
	})

	res := h(context.Background(), nil)
	if !res.IsFailure() || res.Err().Code != "ENVELOPE_NIL" {
		t.Fatalf("expected ENVELOPE_NIL, got %+v", res)
	}
	if invoked.Load() != 0 {
		t.Error("handler must not run for a nil envelope")
	}
}

func TestValidationPerTypeRule(t *testing.T) {
	rules := map[string]ValidationRule{
		"pay": func(env *messaging.Envelope) *messaging.Error {
			amount, _ := env.Payload.(int)
			if amount <= 0 {
				return messaging.ValidationError("INVALID_AMOUNT", "amount must be positive")
			}
			return nil
		},
	}
	var invoked atomic.Int32
	h := Validation(ValidationConfig{Rules: rules})(func(context.Context, *messaging.Envelope) messaging.Result {
		invoked.Add(1)
		return messaging.Success(nil)
	})

	res := h(context.Background(), messaging.NewCommand("pay", -1))
	if !res.IsFailure() || res.Err().Code != "INVALID_AMOUNT" {
		t.Fatalf("expected INVALID_AMOUNT, got %+v", res)
	}
	if invoked.Load() != 0 {
		t.Error("handler must not run for an invalid message")
	}
	if res := h(context.Background(), messaging.NewCommand("pay", 10)); !res.IsSuccess() {
		t.Errorf("valid message should pass, got %v", res.Err())
	}
}

func TestIdempotencyCachesSuccess(t *testing.T) {
	store := idempotency.NewMemoryStore()
	var calls atomic.Int32
	h := Idempotency(IdempotencyConfig{Store: store})(func(context.Context, *messaging.Envelope) messaging.Result {
		calls.Add(1)
		return messaging.Success("receipt-1")
	})

	env := messaging.NewCommand("pay", map[string]int{"amount": 5})
	first := h(context.Background(), env)
	second := h(context.Background(), env)

	if calls.Load() != 1 {
		t.Errorf("duplicate message must not re-invoke the handler, calls=%d", calls.Load())
	}
	if first.Data() != "receipt-1" || second.Data() != "receipt-1" {
		t.Error("cached response should match the original")
	}
}

func TestIdempotencyCachesFailureWhenEnabled(t *testing.T) {
	store := idempotency.NewMemoryStore()
	var calls atomic.Int32
	h := Idempotency(IdempotencyConfig{
		Store:         store,
		CacheFailures: true,
		FailureTTL:    time.Minute,
	})(func(context.Context, *messaging.Envelope) messaging.Result {
		calls.Add(1)
		return messaging.Failure(messaging.ValidationError("INVALID_AMOUNT", "amount must be positive"))
	})

	env := messaging.NewCommand("pay", map[string]int{"amount": -1})
	_ = h(context.Background(), env)
	second := h(context.Background(), env)

	if calls.Load() != 1 {
		t.Errorf("cached failure must not re-invoke the handler, calls=%d", calls.Load())
	}
	if second.Err() == nil || second.Err().Code != "INVALID_AMOUNT" {
		t.Errorf("rehydrated failure should preserve the code, got %+v", second)
	}
}

func TestIdempotencyDoesNotCacheFailuresByDefault(t *testing.T) {
	store := idempotency.NewMemoryStore()
	var calls atomic.Int32
	h := Idempotency(IdempotencyConfig{Store: store})(func(context.Context, *messaging.Envelope) messaging.Result {
		if calls.Add(1) == 1 {
			return messaging.Failure(messaging.TransportError("downstream down", nil))
		}
		return messaging.Success("done")
	})

	env := messaging.NewCommand("pay", nil)
	first := h(context.Background(), env)
	if !first.IsFailure() {
		t.Fatal("expected failure on first call")
	}
	second := h(context.Background(), env)
	if !second.IsSuccess() {
		t.Error("without CacheFailures a duplicate of a failed message must reach the handler")
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 handler invocations, got %d", calls.Load())
	}
}

func TestIdempotencyDoesNotCacheCancellation(t *testing.T) {
	store := idempotency.NewMemoryStore()
	var calls atomic.Int32
	h := Idempotency(IdempotencyConfig{Store: store})(func(ctx context.Context, env *messaging.Envelope) messaging.Result {
		if calls.Add(1) == 1 {
			return messaging.Failure(messaging.CancelledError())
		}
		return messaging.Success("done")
	})

	env := messaging.NewCommand("pay", nil)
	first := h(context.Background(), env)
	if !first.IsCancelled() {
		t.Fatal("expected cancellation on first call")
	}
	second := h(context.Background(), env)
	if !second.IsSuccess() {
		t.Error("cancelled outcome must not be cached; retry should reach the handler")
	}
}

func TestIdempotencyBypassesQueries(t *testing.T) {
	store := idempotency.NewMemoryStore()
	var calls atomic.Int32
	h := Idempotency(IdempotencyConfig{Store: store})(func(context.Context, *messaging.Envelope) messaging.Result {
		calls.Add(1)
		return messaging.Success(calls.Load())
	})

	env := messaging.NewQuery("balance.get", nil)
	_ = h(context.Background(), env)
	_ = h(context.Background(), env)
	if calls.Load() != 2 {
		t.Errorf("queries must bypass the cache, calls=%d", calls.Load())
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	mw := CircuitBreaker(BreakerConfig{FailureThreshold: 3, BreakDuration: 50 * time.Millisecond})

	var healthy atomic.Bool
	h := mw(func(context.Context, *messaging.Envelope) messaging.Result {
		if healthy.Load() {
			return messaging.Success(nil)
		}
		return messaging.Failure(messaging.TransportError("downstream down", nil))
	})

	env := messaging.NewCommand("pay", nil)
	for i := 0; i < 3; i++ {
		if res := h(context.Background(), env); res.Err().Kind != messaging.ErrorKindTransportUnavailable {
			t.Fatalf("attempt %d: expected downstream failure, got %v", i, res.Err())
		}
	}

	// circuit is now open: calls fail fast without reaching the handler
	res := h(context.Background(), env)
	if res.Err().Kind != messaging.ErrorKindCircuitOpen {
		t.Fatalf("expected CIRCUIT_OPEN, got %v", res.Err())
	}

	healthy.Store(true)
	time.Sleep(60 * time.Millisecond)
	// half-open probe succeeds and closes the circuit
	if res := h(context.Background(), env); !res.IsSuccess() {
		t.Fatalf("half-open probe should succeed, got %v", res.Err())
	}
	if res := h(context.Background(), env); !res.IsSuccess() {
		t.Fatalf("closed circuit should pass traffic, got %v", res.Err())
	}
}

func TestCircuitBreakerPerMessageType(t *testing.T) {
	mw := CircuitBreaker(BreakerConfig{FailureThreshold: 2, BreakDuration: time.Minute})
	h := mw(func(ctx context.Context, env *messaging.Envelope) messaging.Result {
		if env.Type == "bad" {
			return messaging.Failure(messaging.TransportError("down", nil))
		}
		return messaging.Success(nil)
	})

	bad := messaging.NewCommand("bad", nil)
	good := messaging.NewCommand("good", nil)
	_ = h(context.Background(), bad)
	_ = h(context.Background(), bad)

	if res := h(context.Background(), bad); res.Err().Kind != messaging.ErrorKindCircuitOpen {
		t.Errorf("bad type should be open, got %v", res.Err())
	}
	if res := h(context.Background(), good); !res.IsSuccess() {
		t.Errorf("unrelated type must not be affected, got %v", res.Err())
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	var calls atomic.Int32
	h := Retry(RetryConfig{MaxRetries: 3, Delay: time.Millisecond})(func(context.Context, *messaging.Envelope) messaging.Result {
		if calls.Add(1) < 3 {
			return messaging.Failure(messaging.TransportError("flaky", nil))
		}
		return messaging.Success("done")
	})

	res := h(context.Background(), messaging.NewCommand("pay", nil))
	if !res.IsSuccess() {
		t.Fatalf("expected eventual success, got %v", res.Err())
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestRetryZeroInvokesExactlyOnce(t *testing.T) {
	var calls atomic.Int32
	original := messaging.TransportError("down", nil)
	h := Retry(RetryConfig{MaxRetries: 0, Delay: time.Millisecond})(func(context.Context, *messaging.Envelope) messaging.Result {
		calls.Add(1)
		return messaging.Failure(original)
	})

	res := h(context.Background(), messaging.NewCommand("pay", nil))
	if calls.Load() != 1 {
		t.Errorf("MaxRetries 0 means exactly one invocation, got %d", calls.Load())
	}
	if res.Err() != original {
		t.Error("failure must be returned unchanged with no retries configured")
	}
}

func TestRetryExhaustedWrapsOriginal(t *testing.T) {
	var calls atomic.Int32
	h := Retry(RetryConfig{MaxRetries: 2, Delay: time.Millisecond})(func(context.Context, *messaging.Envelope) messaging.Result {
		calls.Add(1)
		return messaging.Failure(messaging.TransportError("still down", nil))
	})

	res := h(context.Background(), messaging.NewCommand("pay", nil))
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", calls.Load())
	}
	err := res.Err()
	if err.Kind != messaging.ErrorKindRetryExhausted {
		t.Fatalf("expected RETRY_EXHAUSTED, got %s", err.Kind)
	}
	var cause *messaging.Error
	if !errors.As(err.Cause, &cause) || cause.Kind != messaging.ErrorKindTransportUnavailable {
		t.Error("original failure should be preserved as the cause")
	}
}

func TestRetrySkipsPermanentFailures(t *testing.T) {
	var calls atomic.Int32
	h := Retry(RetryConfig{MaxRetries: 3, Delay: time.Millisecond})(func(context.Context, *messaging.Envelope) messaging.Result {
		calls.Add(1)
		return messaging.Failure(messaging.ValidationError("BAD", "permanently broken"))
	})

	res := h(context.Background(), messaging.NewCommand("pay", nil))
	if calls.Load() != 1 {
		t.Errorf("permanent failures must not be retried, got %d attempts", calls.Load())
	}
	if res.Err().Kind != messaging.ErrorKindValidationFailed {
		t.Errorf("permanent failure should pass through unchanged, got %s", res.Err().Kind)
	}
}

func TestRetryStopsOnCancellation(t *testing.T) {
	var calls atomic.Int32
	h := Retry(RetryConfig{MaxRetries: 5, Delay: 50 * time.Millisecond})(func(ctx context.Context, env *messaging.Envelope) messaging.Result {
		calls.Add(1)
		return messaging.Failure(messaging.TransportError("down", nil))
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res := h(ctx, messaging.NewCommand("pay", nil))
	if !res.IsCancelled() {
		t.Errorf("expected cancellation to interrupt the retry wait, got %v", res.Err())
	}
	if calls.Load() >= 6 {
		t.Error("retries should stop after cancellation")
	}
}
