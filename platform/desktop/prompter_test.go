package desktop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permbridge/permission"
)

const (
	camera = permission.PlatformID("android.permission.CAMERA")
	audio  = permission.PlatformID("android.permission.RECORD_AUDIO")
)

type event struct {
	name string
	data any
}

// mockEmitter records events
type mockEmitter struct {
	events chan event
}

func newMockEmitter() *mockEmitter {
	return &mockEmitter{events: make(chan event, 8)}
}

func (m *mockEmitter) Emit(name string, data any) {
	m.events <- event{name, data}
}

func (m *mockEmitter) next(t *testing.T) event {
	t.Helper()
	select {
	case e := <-m.events:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event emitted")
		return event{}
	}
}

type decision struct {
	grants []bool
	err    error
}

func decideAsync(ctx context.Context, p *Prompter, ids []permission.PlatformID) <-chan decision {
	out := make(chan decision, 1)
	go func() {
		grants, err := p.Decide(ctx, ids)
		out <- decision{grants, err}
	}()
	return out
}

func TestPrompter_EmitsAndResolvesOnAnswer(t *testing.T) {
	r := require.New(t)

	// given
	emitter := newMockEmitter()
	p := NewPrompter(emitter, nil, nil)

	// when
	result := decideAsync(context.Background(), p, []permission.PlatformID{camera, audio})
	e := emitter.next(t)

	// then - the frontend sees names and ids
	r.Equal(PromptEvent, e.name)
	prompt, ok := e.data.(Prompt)
	r.True(ok)
	r.Equal([]PromptPermission{
		{Name: "CAMERA", ID: string(camera)},
		{Name: "RECORD_AUDIO", ID: string(audio)},
	}, prompt.Permissions)
	r.Len(p.Pending(), 1)

	// when
	r.NoError(p.Answer(prompt.RequestCode, []bool{true, false}))

	// then
	d := <-result
	r.NoError(d.err)
	r.Equal([]bool{true, false}, d.grants)
	r.Empty(p.Pending())
}

func TestPrompter_ShortAnswerPadsDenied(t *testing.T) {
	// given
	emitter := newMockEmitter()
	p := NewPrompter(emitter, nil, nil)
	result := decideAsync(context.Background(), p, []permission.PlatformID{camera, audio})
	prompt := emitter.next(t).data.(Prompt)

	// when
	require.NoError(t, p.Answer(prompt.RequestCode, []bool{true}))

	// then
	assert.Equal(t, []bool{true, false}, (<-result).grants)
}

func TestPrompter_EmptyAnswerDismisses(t *testing.T) {
	// given
	emitter := newMockEmitter()
	p := NewPrompter(emitter, nil, nil)
	result := decideAsync(context.Background(), p, []permission.PlatformID{camera})
	prompt := emitter.next(t).data.(Prompt)

	// when
	require.NoError(t, p.Answer(prompt.RequestCode, nil))

	// then
	d := <-result
	assert.NoError(t, d.err)
	assert.Empty(t, d.grants)
}

func TestPrompter_UnknownOrRepeatedAnswer(t *testing.T) {
	// given
	emitter := newMockEmitter()
	p := NewPrompter(emitter, nil, nil)
	result := decideAsync(context.Background(), p, []permission.PlatformID{camera})
	prompt := emitter.next(t).data.(Prompt)

	// when/then
	assert.Error(t, p.Answer(prompt.RequestCode+1, []bool{true}))
	assert.NoError(t, p.Answer(prompt.RequestCode, []bool{true}))
	assert.Error(t, p.Answer(prompt.RequestCode, []bool{false}))
	assert.Equal(t, []bool{true}, (<-result).grants)
}

func TestPrompter_ContextCancelClosesPrompt(t *testing.T) {
	r := require.New(t)

	// given
	emitter := newMockEmitter()
	p := NewPrompter(emitter, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	result := decideAsync(ctx, p, []permission.PlatformID{camera})
	prompt := emitter.next(t).data.(Prompt)

	// when
	cancel()

	// then
	d := <-result
	r.ErrorIs(d.err, context.Canceled)
	closed := emitter.next(t)
	r.Equal(PromptClosedEvent, closed.name)
	r.Equal(prompt.RequestCode, closed.data)
	r.Error(p.Answer(prompt.RequestCode, []bool{true}))
}

func TestPrompter_EmptyBatchEmitsNothing(t *testing.T) {
	emitter := newMockEmitter()
	p := NewPrompter(emitter, nil, nil)

	grants, err := p.Decide(context.Background(), nil)

	assert.NoError(t, err)
	assert.Empty(t, grants)
	assert.Empty(t, emitter.events)
}

func TestEmitterFunc(t *testing.T) {
	var got string
	EmitterFunc(func(name string, _ any) { got = name }).Emit(PromptEvent, nil)
	assert.Equal(t, PromptEvent, got)
}
