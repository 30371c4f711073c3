// SPDX-License-Identifier: EPL-2.0

package cache

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ik5/audwave/audio"
	"github.com/ik5/audwave/waveform"
)

// data returns a waveform whose SizeBytes is 8*n+256.
func data(n int) *waveform.Data {
	return &waveform.Data{
		Amplitudes: make([]float64, n),
		Metadata:   waveform.Metadata{Resolution: n},
	}
}

func newCache(t *testing.T, maxBytes int64, opts ...Option) *Cache {
	t.Helper()

	c, err := New(maxBytes, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCompute(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := waveform.DefaultConfig()

	fp, err := Compute(path, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !regexp.MustCompile(`^[0-9a-f]{16}$`).MatchString(string(fp)) {
		t.Errorf("Compute() = %q, want 16 hex digits", fp)
	}
	if again, _ := Compute(path, cfg); again != fp {
		t.Errorf("Compute() not deterministic: %q != %q", again, fp)
	}

	link := filepath.Join(dir, "link.wav")
	if err := os.Symlink(path, link); err == nil {
		if viaLink, _ := Compute(link, cfg); viaLink != fp {
			t.Errorf("symlink fingerprint %q != %q", viaLink, fp)
		}
	}
	rel, err := filepath.Rel(mustGetwd(t), path)
	if err == nil {
		if viaRel, _ := Compute(rel, cfg); viaRel != fp {
			t.Errorf("relative path fingerprint %q != %q", viaRel, fp)
		}
	}

	other := cfg
	other.Resolution = 500
	if fp2, _ := Compute(path, other); fp2 == fp {
		t.Error("config change kept the fingerprint")
	}

	if err := os.WriteFile(path, []byte("RIFF....WAVE and more"), 0o600); err != nil {
		t.Fatal(err)
	}
	if fp3, _ := Compute(path, cfg); fp3 == fp {
		t.Error("file change kept the fingerprint")
	}

	for _, p := range []string{filepath.Join(dir, "missing.wav"), dir} {
		if _, err := Compute(p, cfg); !audio.IsKind(err, audio.KindFileAccess) {
			t.Errorf("Compute(%s) error = %v, want file access", p, err)
		}
	}
}

func mustGetwd(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	return wd
}

func TestOf(t *testing.T) {
	t.Parallel()

	cfg := waveform.DefaultConfig()
	base := Of("/a.wav", 10, 1, cfg)
	for _, fp := range []Fingerprint{
		Of("/b.wav", 10, 1, cfg),
		Of("/a.wav", 11, 1, cfg),
		Of("/a.wav", 10, 2, cfg),
	} {
		if fp == base {
			t.Errorf("distinct identity produced %q", fp)
		}
	}
	if Of("/a.wav", 10, 1, cfg) != base {
		t.Error("Of() not deterministic")
	}
}

func TestNew_Invalid(t *testing.T) {
	t.Parallel()

	for _, n := range []int64{0, -1} {
		if _, err := New(n); !audio.IsKind(err, audio.KindConfiguration) {
			t.Errorf("New(%d) error = %v", n, err)
		}
	}
}

func TestCache_GetPut(t *testing.T) {
	t.Parallel()

	c := newCache(t, 1<<20)
	if _, ok := c.Get("a"); ok {
		t.Fatal("Get() hit on empty cache")
	}

	d := data(100)
	if err := c.Put("a", d); err != nil {
		t.Fatal(err)
	}
	got, ok := c.Get("a")
	if !ok || got != d {
		t.Fatalf("Get() = %p, %v; want the stored value", got, ok)
	}

	want := Stats{Hits: 1, Misses: 1, SizeBytes: 8*100 + 256, MaxBytes: 1 << 20, Entries: 1}
	if s := c.Statistics(); s != want {
		t.Errorf("Statistics() = %+v, want %+v", s, want)
	}
	if r := c.Statistics().HitRate(); r != 0.5 {
		t.Errorf("HitRate() = %v", r)
	}
	if (Stats{}).HitRate() != 0 {
		t.Error("HitRate() of empty stats != 0")
	}

	// Replacing an entry does not double count its size.
	if err := c.Put("a", data(10)); err != nil {
		t.Fatal(err)
	}
	if c.SizeBytes() != 8*10+256 || c.Len() != 1 {
		t.Errorf("after replace size = %d len = %d", c.SizeBytes(), c.Len())
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	entry := data(10).SizeBytes()
	c := newCache(t, 3*entry)
	for _, k := range []Fingerprint{"a", "b", "c"} {
		if err := c.Put(k, data(10)); err != nil {
			t.Fatal(err)
		}
	}
	c.Get("a")
	if err := c.Put("d", data(10)); err != nil {
		t.Fatal(err)
	}

	if _, ok := c.Peek("b"); ok {
		t.Error("b survived, want it evicted as least recently used")
	}
	want := []Fingerprint{"c", "a", "d"}
	if got := c.Fingerprints(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Fingerprints() = %v, want %v", got, want)
	}
	if s := c.Statistics(); s.Evictions != 1 || s.SizeBytes != 3*entry {
		t.Errorf("Statistics() = %+v", s)
	}
}

func TestCache_TiesEvictInInsertionOrder(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entry := data(1).SizeBytes()
	c := newCache(t, 3*entry, WithClock(func() time.Time { return at }))
	for _, k := range []Fingerprint{"first", "second", "third", "fourth"} {
		if err := c.Put(k, data(1)); err != nil {
			t.Fatal(err)
		}
	}
	if _, ok := c.Peek("first"); ok {
		t.Error("first survived")
	}
	e, ok := c.Peek("second")
	if !ok || !e.LastAccessed.Equal(at) || e.SizeBytes != entry {
		t.Errorf("Peek(second) = %+v, %v", e, ok)
	}
}

func TestCache_NeverExceedsCeiling(t *testing.T) {
	t.Parallel()

	const ceiling = 64 << 10
	c := newCache(t, ceiling)
	rng := rand.New(rand.NewPCG(1, 2))
	for i := range 2000 {
		n := rng.IntN(4000)
		err := c.Put(Fingerprint(fmt.Sprintf("k%d", rng.IntN(300))), data(n))
		if data(n).SizeBytes() > ceiling {
			if !errors.Is(err, ErrTooLarge) {
				t.Fatalf("Put(oversized) error = %v", err)
			}
		} else if err != nil {
			t.Fatal(err)
		}
		if c.SizeBytes() > ceiling {
			t.Fatalf("insert %d: size %d above ceiling %d", i, c.SizeBytes(), ceiling)
		}
	}

	var sum int64
	for _, fp := range c.Fingerprints() {
		e, _ := c.Peek(fp)
		sum += e.SizeBytes
	}
	if sum != c.SizeBytes() {
		t.Errorf("tracked size %d, entries sum to %d", c.SizeBytes(), sum)
	}
}

func TestCache_TooLarge(t *testing.T) {
	t.Parallel()

	c := newCache(t, 1000)
	if err := c.Put("a", data(10)); err != nil {
		t.Fatal(err)
	}
	if err := c.Put("a", data(1000)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Put(oversized) error = %v", err)
	}
	if _, ok := c.Peek("a"); ok || c.SizeBytes() != 0 {
		t.Error("stale entry kept after an oversized replacement")
	}
}

func TestCache_InvalidateShrinkPurge(t *testing.T) {
	t.Parallel()

	c := newCache(t, 1<<20)
	for i := range 10 {
		if err := c.Put(Fingerprint(fmt.Sprint(i)), data(100)); err != nil {
			t.Fatal(err)
		}
	}
	if !c.Invalidate("3") || c.Invalidate("3") {
		t.Error("Invalidate() not true then false")
	}
	if c.Statistics().Evictions != 0 {
		t.Error("Invalidate() counted as eviction")
	}

	entry := data(100).SizeBytes()
	if n := c.Shrink(4 * entry); n != 5 {
		t.Errorf("Shrink() evicted %d, want 5", n)
	}
	if c.Len() != 4 || c.SizeBytes() != 4*entry {
		t.Errorf("after Shrink len = %d size = %d", c.Len(), c.SizeBytes())
	}
	if _, ok := c.Peek("9"); !ok {
		t.Error("Shrink() evicted the newest entry")
	}

	c.Get("9")
	c.Purge()
	s := c.Statistics()
	if s.Entries != 0 || s.SizeBytes != 0 || s.Hits != 1 || s.Evictions != 5 {
		t.Errorf("after Purge = %+v", s)
	}
	if c.Shrink(-5) != 0 {
		t.Error("Shrink() on empty cache evicted")
	}
}

func TestCache_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	entry := data(10).SizeBytes()
	c := newCache(t, 2*entry, WithRegisterer(reg))

	_ = c.Put("a", data(10))
	_ = c.Put("b", data(10))
	_ = c.Put("c", data(10))
	c.Get("c")
	c.Get("a")

	checks := map[string]struct {
		got  prometheus.Collector
		want float64
	}{
		"hits":      {c.metrics.hits, 1},
		"misses":    {c.metrics.misses, 1},
		"evictions": {c.metrics.evictions, 1},
		"bytes":     {c.metrics.bytes, float64(2 * entry)},
		"entries":   {c.metrics.entries, 2},
	}
	for name, ch := range checks {
		if v := testutil.ToFloat64(ch.got); v != ch.want {
			t.Errorf("%s = %v, want %v", name, v, ch.want)
		}
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n != 5 {
		t.Errorf("GatherAndCount() = %d, %v", n, err)
	}
}

func BenchmarkCache_PutGet(b *testing.B) {
	c, err := New(16 << 20)
	if err != nil {
		b.Fatal(err)
	}
	keys := make([]Fingerprint, 1024)
	for i := range keys {
		keys[i] = Fingerprint(fmt.Sprintf("%016x", i))
	}
	d := data(1000)

	b.ReportAllocs()
	i := 0
	for b.Loop() {
		k := keys[i%len(keys)]
		if _, ok := c.Get(k); !ok {
			_ = c.Put(k, d)
		}
		i++
	}
}
