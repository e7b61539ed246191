package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"auth", &pq.Error{Code: "28P01"}, "Database authentication failed"},
		{"missing db", &pq.Error{Code: "3D000", Message: `database "vitals" does not exist`}, "Database not found"},
		{"access", &pq.Error{Code: "28000"}, "Database access denied"},
		{"other pq", &pq.Error{Code: "42P01", Message: "relation missing"}, "Database error: relation missing"},
		{"refused", &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, "connection refused"},
		{"unreachable", fmt.Errorf("dial: %w", syscall.EHOSTUNREACH), "cannot reach"},
		{"dns", &net.DNSError{Name: "db.local", Err: "no such host"}, "hostname not found"},
		{"dns temporary", &net.DNSError{Name: "db.local", IsTemporary: true}, "temporary resolution failure"},
		{"timeout", fmt.Errorf("query: %w", context.DeadlineExceeded), "timeout"},
		{"unknown", errors.New("boom"), "Database error: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, Describe(tt.err, "db:5432"), tt.want)
		})
	}
}

func TestDescribeUsesConnTarget(t *testing.T) {
	err := fmt.Errorf("connect: %w", &ConnError{Target: "10.0.0.5:5432", Err: syscall.ECONNREFUSED})
	assert.Contains(t, Describe(err, ""), "10.0.0.5:5432")
	assert.Contains(t, Describe(errors.New("x"), ""), "unknown")
}
