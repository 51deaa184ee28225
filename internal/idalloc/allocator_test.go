package idalloc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobcard-backend/internal/idalloc"
)

type stubSource struct {
	ids    []string
	err    error
	block  chan struct{}
	calls  int
	prefix string
	limit  int
}

func (s *stubSource) RecentJobCardIDs(ctx context.Context, prefix string, limit int) ([]string, error) {
	s.calls++
	s.prefix = prefix
	s.limit = limit
	if s.block != nil {
		<-s.block
	}
	return s.ids, s.err
}

func TestNext_EmptyEverywhere(t *testing.T) {
	a := idalloc.New(&stubSource{}, "PRE")
	assert.Equal(t, "PRE-00001", a.Next(context.Background(), nil))
}

func TestNext_MaxAcrossLocalAndRemote(t *testing.T) {
	src := &stubSource{ids: []string{"PRE-00003", "PRE-00009"}}
	a := idalloc.New(src, "PRE", idalloc.WithWindow(50))

	id := a.Next(context.Background(), []string{"PRE-00007"})

	assert.Equal(t, "PRE-00010", id)
	assert.Equal(t, "PRE", src.prefix)
	assert.Equal(t, 50, src.limit)
}

func TestNext_LocalAheadOfRemote(t *testing.T) {
	a := idalloc.New(&stubSource{ids: []string{"PRE-00004"}}, "PRE")
	assert.Equal(t, "PRE-00012", a.Next(context.Background(), []string{"PRE-00011", "PRE-00002"}))
}

func TestNext_SkipsMalformedIDs(t *testing.T) {
	a := idalloc.New(&stubSource{ids: []string{"PRE-", "PRE-12a", "XPRE-00900"}}, "PRE")

	id := a.Next(context.Background(), []string{"PRE-00005", "FOO-XYZ", "PRE-abc", "FOO-00099"})

	assert.Equal(t, "PRE-00006", id)
}

func TestNext_RemoteErrorFallsBackToLocal(t *testing.T) {
	a := idalloc.New(&stubSource{err: errors.New("network down")}, "PRE")

	id := a.Next(context.Background(), []string{"PRE-00012", "PRE-00003"})

	assert.Equal(t, "PRE-00013", id)
}

func TestNext_RemoteTimeoutFallsBackToLocal(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	src := &stubSource{ids: []string{"PRE-00500"}, block: block}
	a := idalloc.New(src, "PRE", idalloc.WithTimeout(20*time.Millisecond))

	start := time.Now()
	id := a.Next(context.Background(), []string{"PRE-00012"})

	assert.Equal(t, "PRE-00013", id)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNext_NilSource(t *testing.T) {
	a := idalloc.New(nil, "PRE")
	assert.Equal(t, "PRE-00003", a.Next(context.Background(), []string{"PRE-00002"}))
}

func TestNext_SequenceIsMonotonicWithoutGaps(t *testing.T) {
	a := idalloc.New(&stubSource{}, "PRE")
	var issued []string

	for i := 1; i <= 25; i++ {
		id := a.Next(context.Background(), issued)
		n, ok := a.Parse(id)
		require.True(t, ok, id)
		assert.Equal(t, i, n)
		issued = append(issued, id)
	}

	seen := make(map[string]bool, len(issued))
	for _, id := range issued {
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
}

func TestNext_SequenceWithConsistentRemote(t *testing.T) {
	src := &stubSource{}
	a := idalloc.New(src, "PRE")
	var issued []string
	prev := 0

	for i := 0; i < 10; i++ {
		id := a.Next(context.Background(), issued)
		n, _ := a.Parse(id)
		assert.Equal(t, prev+1, n)
		prev = n
		issued = append(issued, id)
		// the durable store sees every record created so far
		src.ids = append([]string{id}, src.ids...)
	}
}

func TestFormat_WidensPastFiveDigits(t *testing.T) {
	a := idalloc.New(nil, "JC")
	assert.Equal(t, "JC-00042", a.Format(42))
	assert.Equal(t, "JC-123456", a.Format(123456))
	n, ok := a.Parse("JC-123456")
	assert.True(t, ok)
	assert.Equal(t, 123456, n)
}
