package chunkdataplane

import (
	"errors"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMessageShape(t *testing.T) {
	err := NewError("register", CodeProtocolViolation, "bad frame length")
	require.Contains(t, err.Error(), "bad frame length")
	require.Contains(t, err.Error(), "op=register")

	bare := NewError("", CodeResourceExhausted, "")
	require.Contains(t, bare.Error(), string(CodeResourceExhausted))
}

func TestErrorIsComparesByCode(t *testing.T) {
	a := NewError("read", CodeStaleInode, "gone")
	b := NewError("refresh", CodeStaleInode, "also gone")
	c := NewError("read", CodeNoValidCopies, "none")
	require.True(t, errors.Is(a, b))
	require.False(t, errors.Is(a, c))
}

func TestWrapErrorMapsErrno(t *testing.T) {
	err := WrapError("open chunk", syscall.ENOENT)
	require.Equal(t, CodeStaleInode, err.Code)
	require.Equal(t, syscall.ENOENT, err.Errno)

	err = WrapError("submit", syscall.EINVAL)
	require.Equal(t, CodeInvalidParameters, err.Code)

	require.Nil(t, WrapError("noop", nil))
}

func TestWrapErrorMapsDNSFailure(t *testing.T) {
	inner := &net.DNSError{Err: "no such host", Name: "mfsmaster"}
	err := WrapError("resolve master", inner)
	require.Equal(t, CodeDNSFailure, err.Code)
	require.True(t, errors.Is(err, inner), "wrapped cause must unwrap")
}

func TestWrapErrorKeepsExistingCode(t *testing.T) {
	inner := NewError("dial", CodeTransientIO, "connection refused")
	err := WrapError("refresh connection", inner)
	require.Equal(t, CodeTransientIO, err.Code)
	require.Equal(t, "refresh connection", err.Op)
}

func TestAsErrorSentinels(t *testing.T) {
	require.NoError(t, AsError("read", StatusOK))
	require.True(t, IsCode(AsError("read", StatusStaleInode), CodeStaleInode))
	require.True(t, IsCode(AsError("read", StatusNoValidCopies), CodeNoValidCopies))
	require.True(t, IsCode(AsError("read", StatusOutOfMemory), CodeOutOfMemory))
	require.True(t, IsCode(AsError("read", StatusGeneric), CodeTransientIO))
}
