package relayerr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := New(KindTransfer, "put", "/incoming/mx/a.zip", io.ErrUnexpectedEOF)
	assert.Equal(t, "TRANSFER: put /incoming/mx/a.zip: unexpected EOF", err.Error())

	noPath := New(KindPrecondition, "upload", "", errors.New("no files"))
	assert.Equal(t, "PRECONDITION: upload: no files", noPath.Error())
}

func TestKindOf(t *testing.T) {
	base := New(KindAuth, "open", "", errors.New("unable to authenticate"))
	wrapped := fmt.Errorf("relay source: %w", base)

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"direct", base, KindAuth},
		{"wrapped", wrapped, KindAuth},
		{"plain", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}

	assert.True(t, Is(wrapped, KindAuth))
	assert.False(t, Is(wrapped, KindConnect))
	assert.ErrorIs(t, wrapped, base.Err)
}

func TestWrap_KeepsFirstClassification(t *testing.T) {
	assert.Nil(t, Wrap(KindList, "ls", "/x", nil))

	inner := New(KindConnect, "dial", "", io.EOF)
	got := Wrap(KindTransfer, "get", "/x", fmt.Errorf("read: %w", inner))
	assert.Equal(t, KindConnect, KindOf(got))

	plain := Wrap(KindLocalIO, "mkdir", "/tmp/x", io.ErrClosedPipe)
	assert.Equal(t, KindLocalIO, KindOf(plain))
}
