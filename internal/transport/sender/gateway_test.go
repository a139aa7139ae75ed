package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"progress/internal/application/entity"
	"progress/pkg/config"

	"go.uber.org/zap"
)

type stubHTTP struct {
	status  int
	err     error
	lastReq *http.Request
	body    []byte
}

func (s *stubHTTP) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	s.lastReq = req
	if req.Body != nil {
		s.body, _ = io.ReadAll(req.Body)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &http.Response{
		StatusCode: s.status,
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}, nil
}

func payloadJSON(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal(entity.IntentPayload{Title: "Lesson completed", Message: "Nice work"})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestGatewaySend_Success(t *testing.T) {
	stub := &stubHTTP{status: http.StatusAccepted}
	s := NewSMSSender(config.GatewayURL{URL: "http://sms.local/send", APIKey: "key"}, stub, zap.NewNop().Sugar())

	if err := s.Send(context.Background(), "+15550100", payloadJSON(t)); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if got := stub.lastReq.Header.Get("Authorization"); got != "Bearer key" {
		t.Fatalf("auth header: %q", got)
	}

	var req gatewayRequest
	if err := json.Unmarshal(stub.body, &req); err != nil {
		t.Fatal(err)
	}
	if req.To != "+15550100" || req.Message != "Nice work" {
		t.Fatalf("request body: %+v", req)
	}
}

func TestGatewaySend_ServerErrorIsTransient(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusBadGateway} {
		stub := &stubHTTP{status: status}
		s := NewPushSender(config.GatewayURL{URL: "http://push.local"}, stub, zap.NewNop().Sugar())

		err := s.Send(context.Background(), "token", payloadJSON(t))
		if !errors.Is(err, ErrTransient) {
			t.Fatalf("status %d: expected transient, got %v", status, err)
		}
	}
}

func TestGatewaySend_ClientErrorIsPermanent(t *testing.T) {
	stub := &stubHTTP{status: http.StatusUnprocessableEntity}
	s := NewSMSSender(config.GatewayURL{URL: "http://sms.local"}, stub, zap.NewNop().Sugar())

	err := s.Send(context.Background(), "bad-number", payloadJSON(t))
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected permanent, got %v", err)
	}
}

func TestGatewaySend_NetworkErrorIsTransient(t *testing.T) {
	stub := &stubHTTP{err: errors.New("connection refused")}
	s := NewSMSSender(config.GatewayURL{URL: "http://sms.local"}, stub, zap.NewNop().Sugar())

	err := s.Send(context.Background(), "+15550100", payloadJSON(t))
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient, got %v", err)
	}
}

func TestDecodePayload_RejectsEmpty(t *testing.T) {
	if _, err := decodePayload([]byte(`{}`)); !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected permanent, got %v", err)
	}
	if _, err := decodePayload([]byte(`{broken`)); !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected permanent, got %v", err)
	}
}
