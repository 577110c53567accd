package backend

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassifyPg(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"privilege", &pgconn.PgError{Code: "42501"}, ErrPermission},
		{"unique", &pgconn.PgError{Code: "23505"}, ErrAlreadyExists},
		{"bad json", &pgconn.PgError{Code: "22P02"}, ErrInvalidInput},
		{"connection", errors.New("dial tcp: connection refused"), ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyPg(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("classifyPg() = %v, want %v", got, tt.want)
			}
		})
	}
}
