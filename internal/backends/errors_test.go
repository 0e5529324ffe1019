package backends

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil passes through", nil, nil},
		{"taxonomy passes through", fmt.Errorf("wrapped: %w", ErrBadResponse), ErrBadResponse},
		{"deadline becomes timeout", context.DeadlineExceeded, ErrBackendTimeout},
		{"cancellation becomes timeout", context.Canceled, ErrBackendTimeout},
		{"net timeout becomes timeout", timeoutErr{}, ErrBackendTimeout},
		{"anything else becomes unavailable", errors.New("connection refused"), ErrBackendUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(tt.in)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("got %v, want nil", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	if err := StatusError(http.StatusBadGateway, []byte("boom")); !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("502: %v", err)
	}
	if err := StatusError(http.StatusUnprocessableEntity, []byte("bad schema")); !errors.Is(err, ErrBadResponse) {
		t.Errorf("422: %v", err)
	}
}
