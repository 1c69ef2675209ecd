package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
)

// stubProvider zählt Aufrufe und liefert eine vorgegebene Fehlerfolge.
type stubProvider struct {
	scoreErrs  []error
	scoreCalls int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Health(_ context.Context, _ string) (HealthStatus, error) {
	return HealthStatus{Connected: true}, nil
}

func (s *stubProvider) ListModels(_ context.Context, _ string) ([]ModelInfo, error) {
	return nil, nil
}

func (s *stubProvider) ParseConfig(_ []byte) (RuntimeConfig, error) {
	return nil, nil
}

func (s *stubProvider) Categorize(_ context.Context, _ CategorizeRequest) (*CategorizeResult, error) {
	return &CategorizeResult{Categories: []string{"technology"}}, nil
}

func (s *stubProvider) Score(_ context.Context, _ ScoreRequest) (*ScoreResult, error) {
	call := s.scoreCalls
	s.scoreCalls++
	if call < len(s.scoreErrs) && s.scoreErrs[call] != nil {
		return nil, s.scoreErrs[call]
	}
	return &ScoreResult{InterestScore: 7, QualityScore: 8}, nil
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestRetryRecoversFromTransientErrors(t *testing.T) {
	stub := &stubProvider{scoreErrs: []error{
		Transientf("timeout"),
		Transientf("timeout"),
	}}
	wrapped := WithRetry(stub, fastRetryConfig(), zap.NewNop())

	result, err := wrapped.Score(context.Background(), ScoreRequest{Title: "t"})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if result.InterestScore != 7 {
		t.Errorf("interest = %d, want 7", result.InterestScore)
	}
	if stub.scoreCalls != 3 {
		t.Errorf("calls = %d, want 3", stub.scoreCalls)
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	stub := &stubProvider{scoreErrs: []error{
		Transientf("timeout"),
		Transientf("timeout"),
		Transientf("timeout"),
		Transientf("timeout"),
	}}
	wrapped := WithRetry(stub, fastRetryConfig(), zap.NewNop())

	if _, err := wrapped.Score(context.Background(), ScoreRequest{}); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if stub.scoreCalls != 3 {
		t.Errorf("calls = %d, want 3", stub.scoreCalls)
	}
}

func TestRetryDoesNotRetryPermanentErrors(t *testing.T) {
	permanent := fmt.Errorf("malformed response")
	stub := &stubProvider{scoreErrs: []error{permanent}}
	wrapped := WithRetry(stub, fastRetryConfig(), zap.NewNop())

	_, err := wrapped.Score(context.Background(), ScoreRequest{})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want the permanent error unchanged", err)
	}
	if stub.scoreCalls != 1 {
		t.Errorf("calls = %d, want 1", stub.scoreCalls)
	}
}

func TestRetryStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	stub := &stubProvider{scoreErrs: []error{
		Transientf("timeout"),
		Transientf("timeout"),
	}}
	wrapped := WithRetry(stub, fastRetryConfig(), zap.NewNop())

	cancel()
	_, err := wrapped.Score(ctx, ScoreRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if stub.scoreCalls > 1 {
		t.Errorf("calls = %d, cancellation must not be retried", stub.scoreCalls)
	}
}

func TestTransientMarking(t *testing.T) {
	base := fmt.Errorf("connection refused")
	if !IsTransient(Transient(base)) {
		t.Error("Transient(err) must be detected")
	}
	if !IsTransient(fmt.Errorf("wrapped: %w", Transient(base))) {
		t.Error("transient marker must survive wrapping")
	}
	if IsTransient(base) {
		t.Error("plain errors are not transient")
	}
	if Transient(nil) != nil {
		t.Error("Transient(nil) must be nil")
	}
	if !errors.Is(Transient(base), base) {
		t.Error("Transient must unwrap to the original error")
	}
}
