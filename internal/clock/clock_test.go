package clock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeTask struct {
	ran       bool
	cancelled bool
	order     *[]string
	name      string
}

func (f *fakeTask) Execute()        { f.ran = true; *f.order = append(*f.order, f.name) }
func (f *fakeTask) Cancel()         { f.cancelled = true }
func (f *fakeTask) Cancelled() bool { return f.cancelled }

func TestRunNextOrdersByTimeThenInsertion(t *testing.T) {
	c := New()
	var order []string
	a := &fakeTask{order: &order, name: "a"}
	b := &fakeTask{order: &order, name: "b"}
	d := &fakeTask{order: &order, name: "d"}
	cc := &fakeTask{order: &order, name: "c"}

	c.Schedule(a, 10)
	c.Schedule(b, 5)
	c.Schedule(d, 5) // same time as b, scheduled after -> FIFO after b
	c.Schedule(cc, 0)

	for c.RunNext() {
	}
	require.Equal(t, []string{"c", "b", "d", "a"}, order)
}

func TestRunNextAdvancesCurrentTime(t *testing.T) {
	c := New()
	var order []string
	task := &fakeTask{order: &order, name: "x"}
	c.Schedule(task, 42)
	require.Equal(t, int64(0), c.Now())
	require.True(t, c.RunNext())
	require.Equal(t, int64(42), c.Now())
}

func TestCancelledTaskIsSkipped(t *testing.T) {
	c := New()
	var order []string
	a := &fakeTask{order: &order, name: "a"}
	b := &fakeTask{order: &order, name: "b"}
	c.Schedule(a, 0)
	c.Schedule(b, 1)
	a.Cancel()

	require.True(t, c.RunNext())
	require.Equal(t, []string{"b"}, order)
	require.False(t, a.ran)
}

func TestRunNextOnEmptyQueueReturnsFalse(t *testing.T) {
	c := New()
	require.False(t, c.RunNext())
}
