package display

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Elon-Abulafia/PipeRT/component"
	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/message"
	"github.com/Elon-Abulafia/PipeRT/pipeline"
	"github.com/Elon-Abulafia/PipeRT/pkg/queue"
	"github.com/Elon-Abulafia/PipeRT/pkg/retry"
	"github.com/Elon-Abulafia/PipeRT/pkg/tlsutil"
	"github.com/Elon-Abulafia/PipeRT/routine"
	"github.com/Elon-Abulafia/PipeRT/transport/memory"
)

func appendMeta(_ context.Context, frame []byte, meta *message.Message) ([]byte, error) {
	return append(append([]byte{}, frame...), meta.Payload()...), nil
}

func TestHub(t *testing.T) {
	h := newHub()

	first := message.New([]byte("1"))
	assert.Equal(t, 0, h.publish(first))

	ch, ok := h.subscribe()
	require.True(t, ok)
	assert.Equal(t, 1, h.count())
	assert.Same(t, first, <-ch, "new subscribers get the newest frame")

	h.publish(message.New([]byte("2")))
	newest := message.New([]byte("3"))
	assert.Equal(t, 1, h.publish(newest), "a slow viewer skips a frame")
	assert.Same(t, newest, <-ch)

	h.unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, h.count())

	other, _ := h.subscribe()
	h.close()
	h.close()
	<-other
	_, open = <-other
	assert.False(t, open)

	_, ok = h.subscribe()
	assert.False(t, ok)
	assert.Equal(t, 0, h.publish(message.New(nil)))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.ErrorIs(t, Config{FrameKey: "a", Addr: ":0"}.Validate(), errors.ErrMissingConfig)
	assert.ErrorIs(t, Config{FrameKey: "a", MetaKey: "b"}.Validate(), errors.ErrMissingConfig)

	withTLS := DefaultConfig()
	withTLS.TLS = &tlsutil.ServerConfig{CertFile: "display.pem"}
	assert.ErrorIs(t, withTLS.Validate(), errors.ErrMissingConfig)

	_, err := New("display", DefaultConfig(), Dependencies{})
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	withTLS.TLS.KeyFile = "display-key.pem"
	_, err = New("display", withTLS, Dependencies{Transport: memory.New(memory.NewStore(1))})
	assert.True(t, errors.IsFatal(err), "unreadable certificate files")
}

func TestPairReceiver(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(10)
	out, err := queue.New[Pair](1)
	require.NoError(t, err)
	st := routine.NewState(ReceiveRoutine, "display", nil)

	p := &pairReceiver{handler: memory.New(store), frameKey: "f", metaKey: "m", out: out, connect: retry.Connect()}
	require.NoError(t, p.Setup(ctx, st))

	outcome, err := p.MainLogic(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, routine.Idle, outcome)

	store.Append("f", mustEncode(t, message.New([]byte("frame"), message.WithID("f1"))))
	outcome, err = p.MainLogic(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, routine.Worked, outcome, "frames without metadata are still shown")

	pair, ok := out.TryGet()
	require.True(t, ok)
	assert.Nil(t, pair.Meta)

	outcome, _ = p.MainLogic(ctx, st)
	assert.Equal(t, routine.Idle, outcome, "the same frame is not paired twice")

	store.Append("m", mustEncode(t, message.New([]byte("boxes"))))
	store.Append("f", mustEncode(t, message.New([]byte("frame"), message.WithID("f2"))))
	_, err = p.MainLogic(ctx, st)
	require.NoError(t, err)

	pair, ok = out.TryGet()
	require.True(t, ok)
	require.NotNil(t, pair.Meta)
	assert.Equal(t, "f2", pair.Frame.ID())
	assert.Equal(t, int64(1), st.Counter(PairedKey))

	require.NoError(t, p.Cleanup(ctx, st))
}

func TestVisualize(t *testing.T) {
	ctx := context.Background()
	in, _ := queue.New[Pair](1)
	out, _ := queue.New[*message.Message](1)
	st := routine.NewState(VisualizeRoutine, "display", nil)

	v := &visualize{in: in, out: out, vis: VisualizerFunc(appendMeta)}

	frame := message.New([]byte("img"))
	frame.RecordEntry("display", nil)
	meta := message.New([]byte("+box"))
	meta.RecordEntry("detector", nil)
	meta.RecordExit("detector", nil)
	meta.RecordEntry("display", nil)

	require.NoError(t, in.TryPut(Pair{Frame: frame, Meta: meta}))
	outcome, err := v.MainLogic(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, routine.Worked, outcome)

	shown, ok := out.TryGet()
	require.True(t, ok)
	assert.Equal(t, []byte("img+box"), shown.Payload())

	history := shown.History()
	require.Len(t, history, 2, "the frame carries the metadata's trail")
	assert.Equal(t, "detector", history[0].Component)
	assert.Equal(t, "display", history[1].Component)
	assert.False(t, history[1].Open())
}

func TestVisualize_DrawFailureShowsRawFrame(t *testing.T) {
	in, _ := queue.New[Pair](1)
	out, _ := queue.New[*message.Message](1)
	st := routine.NewState(VisualizeRoutine, "display", nil)

	failing := VisualizerFunc(func(context.Context, []byte, *message.Message) ([]byte, error) {
		return nil, fmt.Errorf("bad metadata")
	})
	v := &visualize{in: in, out: out, vis: failing}

	require.NoError(t, in.TryPut(Pair{Frame: message.New([]byte("img")), Meta: message.New([]byte("x"))}))
	_, err := v.MainLogic(context.Background(), st)
	assert.Error(t, err)

	shown, ok := out.TryGet()
	require.True(t, ok)
	assert.Equal(t, []byte("img"), shown.Payload())
}

func TestVisualize_DrawPanicShowsRawFrame(t *testing.T) {
	in, _ := queue.New[Pair](1)
	out, _ := queue.New[*message.Message](1)
	st := routine.NewState(VisualizeRoutine, "display", nil)

	panicking := VisualizerFunc(func(context.Context, []byte, *message.Message) ([]byte, error) {
		panic("index out of range")
	})
	v := &visualize{in: in, out: out, vis: panicking}

	for _, payload := range []string{"img1", "img2"} {
		require.NoError(t, in.TryPut(Pair{Frame: message.New([]byte(payload)), Meta: message.New([]byte("x"))}))
		_, err := v.MainLogic(context.Background(), st)
		assert.ErrorIs(t, err, errors.ErrCallbackPanic)

		shown, ok := out.TryGet()
		require.True(t, ok)
		assert.Equal(t, []byte(payload), shown.Payload())
	}
	assert.Equal(t, int64(2), st.Counter(pipeline.FailedKey))
}

func mustEncode(t *testing.T, m *message.Message) []byte {
	t.Helper()
	data, err := message.Encode(m)
	require.NoError(t, err)
	return data
}

func TestDisplay_EndToEnd(t *testing.T) {
	store := memory.NewStore(10)
	store.Append("camera:2", mustEncode(t, message.New([]byte("+box"))))
	frame := message.New([]byte("jpeg"), message.WithID("frame-1"))
	store.Append("camera:0", mustEncode(t, frame))

	d, err := New("display", Config{FrameKey: "camera:0", MetaKey: "camera:2", Addr: "127.0.0.1:0"}, Dependencies{
		Transport:  memory.New(store),
		Visualizer: VisualizerFunc(appendMeta),
		Options:    []component.Option{component.WithSignals(false)},
	})
	require.NoError(t, err)

	status := make(chan int, 1)
	go func() { status <- d.Run(context.Background()) }()

	select {
	case <-d.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("display server did not start")
	}
	base := "http://" + d.Addr()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/frame")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get(base + "/frame")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg+box"), body)

	video, err := http.Get(base + "/video")
	require.NoError(t, err)
	defer video.Body.Close()
	assert.Contains(t, video.Header.Get("Content-Type"), "multipart/x-mixed-replace")

	part, err := multipart.NewReader(video.Body, boundary).NextPart()
	require.NoError(t, err)
	jpeg, err := io.ReadAll(part)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg+box"), jpeg)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+d.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()

	var summary message.Summary
	require.NoError(t, ws.ReadJSON(&summary))
	assert.Equal(t, "frame-1", summary.ID)
	assert.Equal(t, len("jpeg+box"), summary.PayloadSize)

	assert.Eventually(t, func() bool { return d.Viewers() == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, component.StatusOK, d.StopRun(context.Background()),
		"open streams do not block shutdown")
	select {
	case got := <-status:
		assert.Equal(t, component.StatusOK, got)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
}
