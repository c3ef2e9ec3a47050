package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/transport"
)

var _ transport.Handler = (*Handler)(nil)

func TestStore_KeepsNewestWithinMaxLen(t *testing.T) {
	s := NewStore(3)
	assert.Nil(t, s.Latest("camera:0"))

	for i := 1; i <= 5; i++ {
		s.Append("camera:0", []byte(fmt.Sprint(i)))
	}

	assert.Equal(t, []byte("5"), s.Latest("camera:0"))
	assert.Equal(t, 3, s.Len("camera:0"))
	assert.Equal(t, 0, s.Len("other"))
	assert.Equal(t, []string{"camera:0"}, s.Keys())
}

func TestStore_CopiesOnAppend(t *testing.T) {
	s := NewStore(1)
	buf := []byte("abc")
	s.Append("k", buf)
	buf[0] = 'x'
	assert.Equal(t, []byte("abc"), s.Latest("k"))
}

func TestStore_DefaultMaxLen(t *testing.T) {
	assert.Equal(t, transport.DefaultMaxLen, NewStore(0).MaxLen())
}

func TestShared(t *testing.T) {
	a := Shared(t.Name(), 2)
	b := Shared(t.Name(), 50)
	assert.Same(t, a, b)
	assert.Equal(t, 2, b.MaxLen())
	assert.NotSame(t, a, Shared(t.Name()+"-other", 2))
}

func TestHandler_SendReceive(t *testing.T) {
	ctx := context.Background()
	store := NewStore(10)
	producer := New(store)
	consumer := New(store)

	_, err := consumer.Receive(ctx, "k")
	assert.True(t, errors.IsTransient(err), "unconnected handler fails")
	assert.ErrorIs(t, producer.Send(ctx, "k", []byte("x")), errors.ErrNoConnection)

	require.NoError(t, producer.Connect(ctx))
	require.NoError(t, consumer.Connect(ctx))

	data, err := consumer.Receive(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, data, "no data is not an error")

	require.NoError(t, producer.Send(ctx, "k", []byte("1")))
	require.NoError(t, producer.Send(ctx, "k", []byte("2")))

	data, err = consumer.Receive(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), data)

	data, err = consumer.Receive(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), data, "receive does not consume")

	require.NoError(t, producer.Close(ctx))
	assert.Error(t, producer.Send(ctx, "k", []byte("3")))
	data, err = consumer.Receive(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), data)
	assert.Same(t, store, consumer.Store())
}
