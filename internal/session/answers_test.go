package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSlotKindsFollowQuestionTypes(t *testing.T) {
	q1, q2, q3 := mcq(1), text(2), viva(3)
	s := storeFor(q1, q2, q3)

	for id, kind := range map[string]SlotKind{
		q1.ID.String(): KindChoice,
		q2.ID.String(): KindText,
		q3.ID.String(): KindRecording,
	} {
		slot, err := s.Get(id)
		require.NoError(t, err)
		assert.Equal(t, kind, slot.Kind)
		assert.Equal(t, ReviewUnset, slot.Review)
	}
}

func TestStoreIsAnswered(t *testing.T) {
	q1, q2, q3 := mcq(1), text(2), viva(3)
	s := storeFor(q1, q2, q3)

	assert.False(t, s.IsAnswered(q1.ID.String()))
	require.NoError(t, s.SelectOption(q1.ID.String(), 1))
	assert.True(t, s.IsAnswered(q1.ID.String()))

	require.NoError(t, s.SetText(q2.ID.String(), "   \n\t"))
	assert.False(t, s.IsAnswered(q2.ID.String()), "whitespace is not an answer")
	require.NoError(t, s.SetText(q2.ID.String(), " mitochondria "))
	assert.True(t, s.IsAnswered(q2.ID.String()))

	assert.False(t, s.IsAnswered(q3.ID.String()))
	require.NoError(t, s.AppendTake(q3.ID.String(), TakeRef{ID: "t1"}))
	assert.True(t, s.IsAnswered(q3.ID.String()))

	assert.False(t, s.IsAnswered("missing"))
}

func TestStoreSelectingSameOptionClearsIt(t *testing.T) {
	q := mcq(1)
	s := storeFor(q)
	id := q.ID.String()

	require.NoError(t, s.SelectOption(id, 2))
	require.NoError(t, s.SelectOption(id, 2))
	slot, _ := s.Get(id)
	assert.Nil(t, slot.Selected)

	require.NoError(t, s.SelectOption(id, 0))
	require.NoError(t, s.SelectOption(id, 1))
	slot, _ = s.Get(id)
	require.NotNil(t, slot.Selected)
	assert.Equal(t, 1, *slot.Selected)
}

func TestStoreCountsAlwaysSumToTotal(t *testing.T) {
	q1, q2, q3, q4, q5 := mcq(1), mcq(2), text(3), text(4), viva(5)
	s := storeFor(q1, q2, q3, q4, q5)

	assert.Equal(t, Counts{Unanswered: 5}, s.Counts())

	require.NoError(t, s.SelectOption(q1.ID.String(), 0))
	require.NoError(t, s.SetText(q3.ID.String(), "answer"))
	require.NoError(t, s.ToggleReview(q3.ID.String()))
	require.NoError(t, s.ToggleReview(q4.ID.String()))

	c := s.Counts()
	assert.Equal(t, Counts{Answered: 1, MarkedForReview: 2, Unanswered: 2}, c)
	assert.Equal(t, 5, c.Total())

	require.NoError(t, s.ToggleReview(q3.ID.String()))
	c = s.Counts()
	assert.Equal(t, Counts{Answered: 2, MarkedForReview: 1, Unanswered: 2}, c)
	assert.Equal(t, s.Len(), c.Total())
}

func TestStoreRemoveTakeRepointsActive(t *testing.T) {
	q := viva(1)
	s := storeFor(q)
	id := q.ID.String()
	for _, take := range []string{"a", "b", "c"} {
		require.NoError(t, s.AppendTake(id, TakeRef{ID: take}))
	}

	// active is "c" (index 2); removing an earlier take keeps it on "c"
	removed, err := s.RemoveTake(id, 0)
	require.NoError(t, err)
	assert.Equal(t, "a", removed.ID)
	slot, _ := s.Get(id)
	active, ok := slot.ActiveTake()
	require.True(t, ok)
	assert.Equal(t, "c", active.ID)

	// removing the active last take clamps to the new last take
	_, err = s.RemoveTake(id, 1)
	require.NoError(t, err)
	slot, _ = s.Get(id)
	active, _ = slot.ActiveTake()
	assert.Equal(t, "b", active.ID)

	_, err = s.RemoveTake(id, 0)
	require.NoError(t, err)
	slot, _ = s.Get(id)
	assert.Nil(t, slot.Active)
	assert.Empty(t, slot.Takes)

	_, err = s.RemoveTake(id, 0)
	assert.ErrorIs(t, err, ErrTakeNotFound)
}

func TestStoreSetRejectsKindMismatch(t *testing.T) {
	q1, q2 := mcq(1), text(2)
	s := storeFor(q1, q2)

	assert.ErrorIs(t, s.Set(q1.ID.String(), TextValue{Text: "x"}), ErrKindMismatch)
	assert.ErrorIs(t, s.SelectOption(q2.ID.String(), 0), ErrKindMismatch)
	assert.ErrorIs(t, s.Set("nope", TextValue{}), ErrUnknownQuestion)
	assert.NoError(t, s.Set(q1.ID.String(), ChoiceValue{Selected: intPtr(1)}))
}

func TestStoreFrozenRejectsMutation(t *testing.T) {
	q1, q2 := mcq(1), viva(2)
	s := storeFor(q1, q2)
	require.NoError(t, s.SelectOption(q1.ID.String(), 0))

	s.Freeze()
	assert.True(t, s.Frozen())
	assert.ErrorIs(t, s.SelectOption(q1.ID.String(), 1), ErrSessionFrozen)
	assert.ErrorIs(t, s.ToggleReview(q1.ID.String()), ErrSessionFrozen)
	assert.ErrorIs(t, s.AppendTake(q2.ID.String(), TakeRef{ID: "late"}), ErrSessionFrozen)

	slot, err := s.Get(q1.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 0, *slot.Selected)
}

func TestStoreGetReturnsCopy(t *testing.T) {
	q := viva(1)
	s := storeFor(q)
	require.NoError(t, s.AppendTake(q.ID.String(), TakeRef{ID: "a"}))

	slot, _ := s.Get(q.ID.String())
	slot.Takes[0].ID = "mutated"
	*slot.Active = 7

	again, _ := s.Get(q.ID.String())
	assert.Equal(t, "a", again.Takes[0].ID)
	assert.Equal(t, 0, *again.Active)
}
