package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"
)

type item struct {
	ID   string
	Name string
}

func newTestStore() (*Store[item], *clocktesting.FakeClock) {
	clk := clocktesting.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	return New[item](clk), clk
}

func TestReadMissing(t *testing.T) {
	s, _ := newTestStore()
	c, ok := s.Read("devices")
	if ok {
		t.Fatal("Read() ok = true for unknown key")
	}
	if c.Status != StatusIdle || c.Data != nil {
		t.Errorf("Read() = %+v, want idle with nil data", c)
	}
}

func TestReplace(t *testing.T) {
	s, clk := newTestStore()
	s.Replace("devices", []item{{ID: "a"}, {ID: "b"}})

	c, ok := s.Read("devices")
	if !ok {
		t.Fatal("Read() ok = false after Replace")
	}
	if c.Status != StatusSuccess {
		t.Errorf("Status = %s, want success", c.Status)
	}
	if !c.FetchedAt.Equal(clk.Now()) {
		t.Errorf("FetchedAt = %v, want %v", c.FetchedAt, clk.Now())
	}
	if len(c.Data) != 2 || c.Data[0].ID != "a" || c.Data[1].ID != "b" {
		t.Errorf("Data = %+v", c.Data)
	}
}

func TestReadReturnsCopy(t *testing.T) {
	s, _ := newTestStore()
	s.Replace("devices", []item{{ID: "a", Name: "one"}})

	c, _ := s.Read("devices")
	c.Data[0].Name = "mutated"

	again, _ := s.Read("devices")
	if again.Data[0].Name != "one" {
		t.Errorf("store data changed through a read copy: %+v", again.Data)
	}
}

func TestPatch(t *testing.T) {
	s, _ := newTestStore()

	s.Patch("devices", func(data []item, ok bool) []item {
		if ok {
			t.Error("ok = true for empty key")
		}
		return nil
	})
	if _, ok := s.Read("devices"); ok {
		t.Fatal("nil patch on absent key created an entry")
	}

	s.Replace("devices", []item{{ID: "a"}})
	s.Patch("devices", func(data []item, ok bool) []item {
		return append(data, item{ID: "b"})
	})
	c, _ := s.Read("devices")
	if len(c.Data) != 2 || c.Data[1].ID != "b" {
		t.Errorf("Data = %+v, want [a b]", c.Data)
	}
}

func TestInvalidateKeepsData(t *testing.T) {
	s, _ := newTestStore()
	if s.Invalidate("devices") {
		t.Error("Invalidate() = true for unknown key")
	}

	s.Replace("devices", []item{{ID: "a"}})
	if !s.Invalidate("devices") {
		t.Error("Invalidate() = false for known key")
	}

	c, _ := s.Read("devices")
	if !c.Stale || len(c.Data) != 1 {
		t.Errorf("after Invalidate = %+v, want stale with data", c)
	}

	s.Replace("devices", []item{{ID: "b"}})
	c, _ = s.Read("devices")
	if c.Stale {
		t.Error("Replace did not clear Stale")
	}
}

func TestGenerationGuard(t *testing.T) {
	s, _ := newTestStore()
	s.Replace("devices", []item{{ID: "old"}})

	first := s.BeginFetch("devices")
	second := s.BeginFetch("devices")
	if second <= first {
		t.Fatalf("generations not increasing: %d then %d", first, second)
	}

	if !s.ReplaceIfCurrent("devices", second, []item{{ID: "new"}}) {
		t.Fatal("current generation rejected")
	}
	if s.ReplaceIfCurrent("devices", first, []item{{ID: "late"}}) {
		t.Fatal("superseded generation applied")
	}

	c, _ := s.Read("devices")
	if len(c.Data) != 1 || c.Data[0].ID != "new" {
		t.Errorf("Data = %+v, want [new]", c.Data)
	}
}

func TestCancelDiscardsInFlight(t *testing.T) {
	s, _ := newTestStore()
	gen := s.BeginFetch("devices")

	c, _ := s.Read("devices")
	if c.Status != StatusLoading || !c.Fetching {
		t.Fatalf("after BeginFetch = %+v, want loading", c)
	}

	s.Cancel("devices")
	if s.ReplaceIfCurrent("devices", gen, []item{{ID: "x"}}) {
		t.Error("fetch result applied after Cancel")
	}
	if s.FailIfCurrent("devices", gen, errors.New("boom")) {
		t.Error("fetch failure applied after Cancel")
	}

	c, _ = s.Read("devices")
	if c.Fetching || c.Data != nil {
		t.Errorf("after Cancel = %+v", c)
	}
}

func TestFailKeepsData(t *testing.T) {
	s, _ := newTestStore()
	s.Replace("devices", []item{{ID: "a"}})

	gen := s.BeginFetch("devices")
	boom := errors.New("boom")
	if !s.FailIfCurrent("devices", gen, boom) {
		t.Fatal("FailIfCurrent() = false")
	}

	c, _ := s.Read("devices")
	if c.Status != StatusError || !errors.Is(c.Err, boom) {
		t.Errorf("after fail = %+v", c)
	}
	if len(c.Data) != 1 || c.Data[0].ID != "a" {
		t.Errorf("Data = %+v, want prior data kept", c.Data)
	}
}

func TestRestoreVerbatim(t *testing.T) {
	s, _ := newTestStore()
	s.Replace("devices", []item{{ID: "a"}, {ID: "b"}})
	snap, _ := s.Read("devices")

	s.Patch("devices", func(data []item, _ bool) []item { return data[:1] })
	s.Restore("devices", snap.Data)

	c, _ := s.Read("devices")
	if len(c.Data) != 2 || c.Data[0] != snap.Data[0] || c.Data[1] != snap.Data[1] {
		t.Errorf("Restore() = %+v, want %+v", c.Data, snap.Data)
	}

	s.Restore("devices", nil)
	c, _ = s.Read("devices")
	if c.Data != nil {
		t.Errorf("Restore(nil) left %+v", c.Data)
	}
}

func TestSubscribe(t *testing.T) {
	s, _ := newTestStore()

	var got [][]item
	unsubscribe := s.Subscribe("devices", func(c Collection[item]) {
		got = append(got, c.Data)
	})
	if !s.Observed("devices") {
		t.Fatal("Observed() = false after Subscribe")
	}

	s.Replace("devices", []item{{ID: "a"}})
	s.Patch("devices", func(data []item, _ bool) []item { return append(data, item{ID: "b"}) })
	s.Replace("other", []item{{ID: "z"}})

	if len(got) != 2 || len(got[0]) != 1 || len(got[1]) != 2 {
		t.Fatalf("notifications = %+v, want two writes to devices", got)
	}

	unsubscribe()
	if s.Observed("devices") {
		t.Error("Observed() = true after unsubscribe")
	}
	s.Replace("devices", nil)
	if len(got) != 2 {
		t.Errorf("notified after unsubscribe: %d", len(got))
	}
}

func TestClose(t *testing.T) {
	s, _ := newTestStore()
	calls := 0
	s.Subscribe("devices", func(Collection[item]) { calls++ })

	s.Close()
	s.Replace("devices", []item{{ID: "a"}})
	if calls != 0 {
		t.Errorf("listener called %d times after Close", calls)
	}
	s.Subscribe("devices", func(Collection[item]) { calls++ })
	if s.Observed("devices") {
		t.Error("Subscribe after Close registered a listener")
	}
}

func TestConcurrentWrites(t *testing.T) {
	s, _ := newTestStore()
	s.Replace("devices", []item{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Patch("devices", func(data []item, _ bool) []item {
				return append(data, item{ID: "x"})
			})
			_, _ = s.Read("devices")
		}()
	}
	wg.Wait()

	c, _ := s.Read("devices")
	if len(c.Data) != 50 {
		t.Errorf("len(Data) = %d, want 50", len(c.Data))
	}
}

func TestKeys(t *testing.T) {
	s, _ := newTestStore()
	s.Replace("b", nil)
	s.Replace("a", nil)
	keys := s.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Keys() = %v", keys)
	}
}
