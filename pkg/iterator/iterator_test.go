package iterator

import (
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// strictIterator only behaves when HasNext is called exactly once before each Next.
type strictIterator struct {
	items  []int
	pos    int
	calls  int
	failAt int
}

func (s *strictIterator) HasNext() (bool, error) {
	s.calls++
	if s.failAt > 0 && s.pos == s.failAt {
		return false, errors.New("source broken")
	}
	return s.pos < len(s.items), nil
}

func (s *strictIterator) Next() (int, error) {
	if s.calls == 0 {
		return 0, errors.New("HasNext not called")
	}
	s.calls = 0
	v := s.items[s.pos]
	s.pos++
	return v, nil
}

func TestFromSlice(t *testing.T) {
	it := FromSlice([]int{1, 2})

	got, err := Collect(it)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)

	_, err = it.Next()
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestRespectingContract_RepeatedHasNext(t *testing.T) {
	src := &strictIterator{items: []int{1, 2, 3}}
	it := RespectingContract[int](src)

	for i := 0; i < 5; i++ {
		ok, err := it.HasNext()
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, src.calls, "source HasNext should be called once")

	v, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestRespectingContract_NextWithoutHasNext(t *testing.T) {
	it := RespectingContract[int](&strictIterator{items: []int{7, 8}})

	v, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	v, err = it.Next()
	require.NoError(t, err)
	assert.Equal(t, 8, v)

	_, err = it.Next()
	assert.ErrorIs(t, err, ErrExhausted)

	ok, err := it.HasNext()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRespectingContract_FailureIsTerminal(t *testing.T) {
	it := RespectingContract[int](&strictIterator{items: []int{1, 2, 3}, failAt: 1})

	v, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = it.HasNext()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source broken")

	_, err2 := it.Next()
	assert.Equal(t, err, err2, "later calls should return the same error")

	ok, err3 := it.HasNext()
	assert.False(t, ok)
	assert.Equal(t, err, err3)
}

func TestRespectingContract_DoesNotDoubleWrap(t *testing.T) {
	inner := RespectingContract(FromSlice([]int{1}))
	assert.Same(t, inner, RespectingContract(inner))
}

func TestCounting(t *testing.T) {
	it := Counting(FromSlice([]string{"a", "b", "c"}))

	assert.Equal(t, int64(0), it.Total())
	_, _ = it.HasNext()
	_, _ = it.HasNext()
	assert.Equal(t, int64(0), it.Total(), "HasNext must not count")

	_, err := Collect[string](it)
	require.NoError(t, err)
	assert.Equal(t, int64(3), it.Total())

	_, err = it.Next()
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, int64(3), it.Total())
}

func TestFromSeq(t *testing.T) {
	seq := func(yield func(int, error) bool) {
		for i := 1; i <= 3; i++ {
			if !yield(i, nil) {
				return
			}
		}
	}
	it := FromSeq(iter.Seq2[int, error](seq))
	defer func() { _ = Close(it) }()

	ok, err := it.HasNext()
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = it.HasNext()
	assert.True(t, ok)

	got, err := Collect(it)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestFromSeq_PropagatesError(t *testing.T) {
	boom := errors.New("read failed")
	seq := func(yield func(int, error) bool) {
		if !yield(1, nil) {
			return
		}
		yield(0, boom)
	}
	it := FromSeq(iter.Seq2[int, error](seq))
	defer func() { _ = Close(it) }()

	got, err := Collect(it)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1}, got)

	_, err = it.Next()
	assert.ErrorIs(t, err, boom)
}

func TestDistinct(t *testing.T) {
	type row struct {
		Key     string
		Version int
	}
	src := FromSlice([]row{{"b", 1}, {"a", 1}, {"b", 3}, {"a", 2}, {"c", 1}})

	it, err := Distinct(src,
		func(r row) string { return r.Key },
		func(x, y row) int { return y.Version - x.Version },
		nil)
	require.NoError(t, err)

	got, err := Collect(it)
	require.NoError(t, err)
	assert.Equal(t, []row{{"b", 3}, {"a", 2}, {"c", 1}}, got)
}
